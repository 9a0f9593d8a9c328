package sqlite

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"wosbot/internal/shared"
)

// AllTargets - ключ плана, чьи шаблоны применяются к каждой базе.
const AllTargets = "*"

// Plan описывает, какие скрипты относятся к какой базе.
//
//	targets:
//	  users.sqlite: ["0001_*.sql", "0003_users_*.sql"]
//	  "*": ["0002_common.sql"]
//
// Ключ - имя файла базы в каталоге баз, значения - шаблоны path.Match по именам скриптов.
type Plan struct {
	Targets map[string][]string `yaml:"targets"`
}

// LoadPlan читает план миграций. Отсутствие файла не ошибка: возвращается nil,
// и каждый скрипт применяется к каждой базе.
func LoadPlan(file string) (*Plan, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse migration plan %s: %w: %w", file, shared.ErrValidation, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("migration plan %s: %w", file, err)
	}
	return &p, nil
}

// Validate проверяет синтаксис всех шаблонов.
func (p *Plan) Validate() error {
	names := make([]string, 0, len(p.Targets))
	for name := range p.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "" {
			return fmt.Errorf("empty target name: %w", shared.ErrValidation)
		}
		for _, pattern := range p.Targets[name] {
			if _, err := path.Match(pattern, ""); err != nil {
				return fmt.Errorf("target %s: bad pattern %q: %w", name, pattern, shared.ErrValidation)
			}
		}
	}
	return nil
}

// ScriptsFor отбирает скрипты для базы, сохраняя лексикографический порядок.
// nil-план означает, что к базе применяются все скрипты.
func (p *Plan) ScriptsFor(target string, scripts []Script) []Script {
	if p == nil {
		return scripts
	}

	patterns := append(append([]string{}, p.Targets[target]...), p.Targets[AllTargets]...)
	var out []Script
	for _, s := range scripts {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, s.ID); ok {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
