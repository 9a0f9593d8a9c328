// Package sqlite предоставляет общий доступ к файлам SQLite для многих потребителей.
//
// Основные возможности:
// - Реестр соединений: одно физическое соединение на файл базы
// - Реентерабельная блокировка файла, через которую проходит каждая операция
// - Транзакции с поддержкой savepoints
// - Миграции скриптами *.sql с учётом в таблице _migrations
// - Тестовые хелперы для удобного тестирования
//
// # Быстрый старт
//
//	mgr := sqlite.NewManager(sqlite.DefaultDBOptions(), logger)
//	defer mgr.Shutdown(context.Background())
//
//	h, err := mgr.Open(ctx, "db/users.sqlite")
//	if err != nil {
//		return err
//	}
//	_, err = h.Exec(ctx, "INSERT INTO users (name) VALUES (?)", "John")
//
// Повторный Open того же файла из любого обработчика вернёт тот же *Handle.
// Handle.Close для общих файлов ничего не делает, соединения закрывает Shutdown.
//
// # Блокировка
//
// Каждый вызов захватывает блокировку файла на время выполнения.
// Чтобы выполнить несколько операций подряд без вклинивания чужих,
// захватите её явно и передавайте полученный контекст:
//
//	ctx, unlock, err := h.Lock(ctx)
//	if err != nil {
//		return err
//	}
//	defer unlock()
//
// Контекст с удерживаемой блокировкой нельзя передавать в другие goroutine.
//
// # Управление транзакциями
//
//	err = h.WithinTx(ctx, func(ctx context.Context) error {
//		if _, err := h.Exec(ctx, "UPDATE accounts SET balance = balance - 10 WHERE id = ?", 1); err != nil {
//			return err
//		}
//		// вложенный WithinTx создаёт savepoint
//		return h.WithinTx(ctx, func(ctx context.Context) error {
//			_, err := h.Exec(ctx, "UPDATE accounts SET balance = balance + 10 WHERE id = ?", 2)
//			return err
//		})
//	})
//
// Курсоры, открытые внутри транзакции, закрываются при её завершении.
//
// # Миграции
//
//	runner := sqlite.NewRunner(mgr, sqlite.MigrateOptions{MigrationsDir: "migrations", DBDir: "db"}, logger)
//	report, err := runner.Run(ctx)
//
// Скрипты применяются в лексикографическом порядке имён. Каждый применённый скрипт
// записывается в _migrations и больше не выполняется. Необязательный
// migrations/plan.yaml задаёт, какие скрипты относятся к какой базе.
//
// # Тестирование
//
//	env := sqlite.NewTestEnv(t)
//	env.WriteScripts(t, map[string]string{"0001_init.sql": "CREATE TABLE t (id INTEGER);"})
//	env.TouchDB(t, "app.sqlite")
//	_, err := env.Runner().Run(ctx)
package sqlite
