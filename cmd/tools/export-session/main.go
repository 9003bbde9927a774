// Command export-session writes a recorded session to an xlsx workbook with
// one sheet for the session summary, one for breaths and one for spectra.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/hrv.report/internal/db"
	"github.com/banshee-data/hrv.report/internal/security"
)

var (
	dbPath    = flag.String("db", "hrv.db", "Path to the sqlite session database")
	sessionID = flag.String("session", "", "Session to export (default: the most recent)")
	outDir    = flag.String("out", ".", "Output directory")
	list      = flag.Bool("list", false, "List sessions and exit")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if *list {
		sessions, err := database.Sessions(ctx)
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s\n", s.ID, s.Started.Format("2006-01-02 15:04:05"), s.SensorModel)
		}
		return
	}

	path, err := export(ctx, database, *sessionID, *outDir)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	log.Printf("wrote %s", path)
}

var errNoSessions = errors.New("database has no sessions")

// export writes session id (or the newest session when id is empty) into
// dir and returns the path of the workbook.
func export(ctx context.Context, database *db.DB, id, dir string) (string, error) {
	if id == "" {
		sessions, err := database.Sessions(ctx)
		if err != nil {
			return "", err
		}
		if len(sessions) == 0 {
			return "", errNoSessions
		}
		id = sessions[0].ID
	}

	s, err := database.Session(ctx, id)
	if err != nil {
		return "", err
	}
	breaths, err := database.Breaths(ctx, s.ID)
	if err != nil {
		return "", err
	}
	spectra, err := database.Spectra(ctx, s.ID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, security.SessionFilename(s.ID, "xlsx"))
	if err := security.ValidateOutputPath(path, dir); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteWorkbook(f, s, breaths, spectra); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close output file: %w", err)
	}
	return path, nil
}
