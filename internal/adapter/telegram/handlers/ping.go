package handlers

// Ping answers /ping.
func Ping() string { return "pong" }
