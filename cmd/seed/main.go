package main

import (
	"flag"
	"fmt"
	"log"

	"permit_flow_app_go/config"
	"permit_flow_app_go/db"
	"permit_flow_app_go/models"
	"permit_flow_app_go/services"
)

func main() {
	list := flag.Bool("list", false, "print the catalog after seeding")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize database
	database, err := db.Open(db.Options{
		Path:        cfg.DBPath,
		TursoURL:    cfg.TursoDatabaseURL,
		TursoToken:  cfg.TursoAuthToken,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close(database)

	// Run migrations
	if err := db.AutoMigrate(database, &models.PermitType{}, &models.PermitState{}, &models.Permit{}, &models.AuditLog{}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if err := services.SeedCatalog(database); err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}

	if !*list {
		return
	}

	states, err := services.ListStates(database)
	if err != nil {
		log.Fatalf("Failed to list states: %v", err)
	}
	fmt.Println("=== Lifecycle states ===")
	for _, s := range states {
		fmt.Printf("%-24s %s\n", s.Code, s.Name)
	}

	types, err := services.ListPermitTypes(database, false)
	if err != nil {
		log.Fatalf("Failed to list permit types: %v", err)
	}
	fmt.Println()
	fmt.Println("=== Permit types ===")
	for _, t := range types {
		limit := "sin límite"
		if t.MaxDurationHours != nil {
			limit = fmt.Sprintf("%.1fh", *t.MaxDurationHours)
		}
		fmt.Printf("%s  %-22s %-10s activo=%t institución=%t\n", t.ID, t.Code, limit, t.IsActive, t.RequiresInstitutionSignature)
	}
}
