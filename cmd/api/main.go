package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"condogate/app"
)

func main() {
	runtime, err := app.Build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: true,
	})
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("listening on :%s", port)
	if err := http.ListenAndServe(":"+port, runtime.Handler); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
