package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/medlab/lims/internal/platform/db"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migs, err := db.NewMigratorFS(nil, Files).LoadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migs) != 5 {
		t.Fatalf("expected 5 migrations, got %d", len(migs))
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
	}
}

func TestConstraintNamesUsedByRepositories(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(Files, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return err
		}
		b, err := fs.ReadFile(Files, path)
		if err != nil {
			return err
		}
		all.Write(b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"patients_national_id_key",
		"samples_code_key",
		"samples_assignment_seq_key",
		"materials_code_key",
		"queue_entries_active_key",
		"patient_code_seq",
		"accession_seq",
		"invoice_number_seq",
		"purchase_number_seq",
	} {
		if !strings.Contains(all.String(), name) {
			t.Errorf("schema does not define %s", name)
		}
	}
}
