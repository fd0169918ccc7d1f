// Command loader bulk-loads award CSV exports into the database. It walks
// the data directory, maps columns by header name, and upserts one award
// per row. Run it before the first full indexing pass.
package main

import (
	"context"
	"encoding/csv"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ahsantfw/Vector-search-awards/internal/config"
	"github.com/ahsantfw/Vector-search-awards/internal/store"
	"github.com/ahsantfw/Vector-search-awards/pkg/models"
	"github.com/karrick/godirwalk"
	"github.com/spf13/pflag"
)

// columnAliases maps normalized CSV headers to award fields. Agency
// exports disagree on header names, so each field accepts several.
var columnAliases = map[string]string{
	"award_id":               "award_id",
	"id":                     "award_id",
	"award_number":           "award_number",
	"award_no":               "award_number",
	"title":                  "title",
	"award_title":            "title",
	"agency":                 "agency",
	"funding_agency":         "agency",
	"institution":            "institution",
	"organization":           "institution",
	"pi":                     "pi",
	"principal_investigator": "pi",
	"pm":                     "pm",
	"program_manager":        "pm",
	"award_status":           "status",
	"status":                 "status",
	"public_abstract":        "abstract",
	"abstract":               "abstract",
	"url":                    "url",
	"award_url":              "url",
	"public_abstract_url":    "abstract_url",
	"most_recent_award_date": "last_award_date",
	"award_date":             "last_award_date",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

func main() {
	fs := pflag.NewFlagSet("awardsearch-loader", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	var files []string
	err = godirwalk.Walk(cfg.DataDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if strings.HasSuffix(strings.ToLower(path), ".csv") {
				files = append(files, path)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		log.Fatalf("walk %s: %v", cfg.DataDir, err)
	}
	if len(files) == 0 {
		log.Fatalf("no CSV files found under %s", cfg.DataDir)
	}

	total, skipped := 0, 0
	for _, path := range files {
		n, s, err := loadFile(ctx, st, path)
		if err != nil {
			log.Fatalf("load %s: %v", path, err)
		}
		log.Printf("loaded %s: %d awards (%d skipped)", path, n, s)
		total += n
		skipped += s
	}
	log.Printf("done: %d awards loaded, %d rows skipped", total, skipped)
}

type awardUpserter interface {
	UpsertAward(ctx context.Context, a models.Award) error
}

func loadFile(ctx context.Context, st awardUpserter, path string) (loaded, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, 0, err
	}
	fields := make(map[int]string, len(header))
	for i, h := range header {
		if field, ok := columnAliases[normalizeHeader(h)]; ok {
			fields[i] = field
		}
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return loaded, skipped, err
		}

		var a models.Award
		extra := map[string]string{}
		for i, v := range record {
			v = strings.TrimSpace(v)
			if v == "" || i >= len(header) {
				continue
			}
			switch fields[i] {
			case "award_id":
				a.AwardID = v
			case "award_number":
				a.AwardNumber = v
			case "title":
				a.Title = v
			case "agency":
				a.Agency = v
			case "institution":
				a.Institution = v
			case "pi":
				a.PI = v
			case "pm":
				a.PM = v
			case "status":
				a.Status = v
			case "abstract":
				a.Abstract = v
			case "url":
				a.URL = v
			case "abstract_url":
				a.AbstractURL = v
			case "last_award_date":
				a.LastAwardDate = v
			default:
				extra[normalizeHeader(header[i])] = v
			}
		}
		if a.AwardID == "" || a.Title == "" {
			skipped++
			continue
		}
		if len(extra) > 0 {
			a.Metadata = extra
		}

		if err := st.UpsertAward(ctx, a); err != nil {
			return loaded, skipped, err
		}
		loaded++
	}
	return loaded, skipped, nil
}
