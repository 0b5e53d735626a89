// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Command petscango is a minimal HTTP front end over the query engine: it
// parses request parameters into a Parameter Bag, runs the Pipeline Driver,
// and serves the finished Page Set as a small JSON summary. It is
// deliberately not a renderer — HTML/CSV/KML/wiki output stays a
// separate collaborator's responsibility.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wikitools/petscango/internal/broker"
	"github.com/wikitools/petscango/internal/pageset"
	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pipeline"
	"github.com/wikitools/petscango/internal/tooldb"
	"github.com/wikitools/petscango/internal/wikiapi"
)

var logger *log.Logger

const userAgent = "petscango/0.1 (https://github.com/wikitools/petscango)"

func main() {
	var portFlag = flag.Int("port", 0, "port for serving HTTP requests")
	var credsFlag = flag.String("credentials", "", "path to JSON file with database credentials")
	flag.Parse()

	port := *portFlag
	if port == 0 {
		port, _ = strconv.Atoi(os.Getenv("PORT"))
	}
	if port == 0 {
		port = 8000
	}

	logPath := filepath.Join("logs", "petscango.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		log.Fatal(err)
	}
	logfile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer logfile.Close()
	logger = log.New(io.MultiWriter(logfile, os.Stderr), "", log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)
	logger.Printf("petscango starting up")

	cfg, err := loadConfig(*credsFlag)
	if err != nil {
		logger.Fatal(err)
	}

	b, err := broker.New(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	defer b.Close()
	if err := prometheus.Register(b); err != nil {
		logger.Fatal(err)
	}

	tdb := tooldb.New(func(ctx context.Context) (tooldb.Conn, error) {
		return b.ToolDatabase(ctx)
	})
	api := wikiapi.New(userAgent)
	driver := pipeline.New(b, api, tdb)
	srv := &server{driver: driver, tooldb: tdb}

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/query", srv.handleQuery)
	http.HandleFunc("/psid", srv.handleSavePSID)
	http.HandleFunc("/robots.txt", handleRobotsTxt)

	logger.Printf("listening on port %d", port)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), nil); err != nil {
		logger.Fatal(err)
	}
}

// loadConfig populates a broker.Config from environment variables, then
// overlays a JSON credentials file if one is given, an env-first,
// JSON-override pattern.
func loadConfig(credsPath string) (broker.Config, error) {
	cfg := broker.Config{
		ReplicaUser:       os.Getenv("REPLICA_USER"),
		ReplicaPassword:   os.Getenv("REPLICA_PASSWORD"),
		TermstoreUser:     os.Getenv("TERMSTORE_USER"),
		TermstorePass:     os.Getenv("TERMSTORE_PASSWORD"),
		ToolDatabaseUser:  os.Getenv("TOOLDB_USER"),
		ToolDatabasePass:  os.Getenv("TOOLDB_PASSWORD"),
		ToolDatabaseHost:  os.Getenv("TOOLDB_HOST"),
	}
	if credsPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(credsPath)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type server struct {
	driver *pipeline.Driver
	tooldb *tooldb.Store
}

// handleQuery runs the full pipeline for the request's parameters and
// writes the resulting Page Set as JSON. It records a started_queries row
// for the run's duration; a separate reaper process sweeps rows abandoned
// by crashed handlers, so this handler only ever owns and removes its own
// row.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bag := params.FromValues(r.Form)
	ctx := r.Context()

	if done, err := s.tooldb.BeginStartedQuery(ctx, r.Form.Encode()); err != nil {
		logger.Printf("started_queries: %v", err)
	} else {
		defer func() {
			if err := done(context.Background()); err != nil {
				logger.Printf("started_queries cleanup: %v", err)
			}
		}()
	}

	result, err := s.driver.Run(ctx, bag)
	if err != nil {
		logger.Printf("query failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeSummary(w, result)
}

// handleSavePSID persists the request's raw parameters and returns the
// freshly minted PSID, so a later request can resume it via "psid=...".
func (s *server) handleSavePSID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "psid requires POST", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	psid, err := s.tooldb.SavePSID(r.Context(), r.Form.Encode())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "%s", psid)
}

type pageSummary struct {
	Namespace int    `json:"ns"`
	Title     string `json:"title"`
}

type querySummary struct {
	Wiki  string        `json:"wiki"`
	Count int           `json:"count"`
	Pages []pageSummary `json:"pages"`
}

func writeSummary(w http.ResponseWriter, result *pageset.PageSet) {
	summary := querySummary{Wiki: result.Wiki(), Count: result.Len()}
	result.Each(func(e *pageset.PageEntry) {
		summary.Pages = append(summary.Pages, pageSummary{Namespace: e.Title.NamespaceID, Title: e.Title.Pretty()})
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		logger.Printf("encoding response: %v", err)
	}
}

// handleRobotsTxt matches cmd/webserver's handling: Toolforge's proxy
// injects a deny-all response unless the tool serves its own robots.txt.
func handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%s", "User-Agent: *\nAllow: /\n")
}
