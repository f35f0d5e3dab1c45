// Command choicesim runs LLM-driven choice experiments.
package main

import "github.com/joho/godotenv"

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()
	Execute()
}
