package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tagdeck/host/internal/cards"
	"github.com/tagdeck/host/internal/config"
	"github.com/tagdeck/host/internal/storage"
)

// SearchConfig holds the configuration for the search command.
type SearchConfig struct {
	Mode      string
	Local     bool
	DBPath    string
	APIBaseURL    string
	NoCaching bool
}

func runSearch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &SearchConfig{}
	fs.StringVar(&cfg.Mode, "mode", "fuzzy", "Search mode: fuzzy, exact, or id")
	fs.BoolVar(&cfg.Local, "local", false, "Search the local cache instead of the remote database")
	fs.StringVar(&cfg.DBPath, "db", "", "Path to the card cache database (default: ~/.tagdeck/tagdeck.db)")
	fs.StringVar(&cfg.APIBaseURL, "api-url", "", "Card database endpoint (default: "+config.DefaultAPIBaseURL+")")
	fs.BoolVar(&cfg.NoCaching, "no-cache", false, "Do not store remote results in the local cache")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck search [options] <query>\n\nSearch the card database by name or passcode.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  tagdeck search \"dark magician\"\n")
		fmt.Fprintf(stderr, "  tagdeck search --mode exact \"Dark Magician\"\n")
		fmt.Fprintf(stderr, "  tagdeck search --mode id 46986414\n")
		fmt.Fprintf(stderr, "  tagdeck search --local magician\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: query is required")
		fs.Usage()
		return 1
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(stderr, "Error: query is required")
		return 1
	}

	var mode cards.SearchMode
	switch cfg.Mode {
	case "fuzzy":
		mode = cards.SearchFuzzy
	case "exact":
		mode = cards.SearchExact
	case "id":
		mode = cards.SearchID
	default:
		fmt.Fprintf(stderr, "Error: unknown search mode %q (want fuzzy, exact, or id)\n", cfg.Mode)
		return 1
	}

	if cfg.Local {
		return searchLocal(cfg, mode, query, stdout, stderr)
	}
	return searchRemote(cfg, mode, query, stdout, stderr)
}

// searchRemote queries the remote card database and warms the local
// cache with the results.
func searchRemote(cfg *SearchConfig, mode cards.SearchMode, query string, stdout, stderr io.Writer) int {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = config.DefaultAPIBaseURL
	}
	client := cards.NewClient(cards.ClientConfig{BaseURL: baseURL})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	found, skipped, err := client.Search(ctx, mode, query)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	for _, entry := range skipped {
		fmt.Fprintf(stderr, "Warning: skipping unparseable entry: %s\n", entry.Reason)
	}

	if len(found) == 0 {
		fmt.Fprintf(stdout, "No cards found for %q.\n", query)
		return 0
	}

	renderCardTable(stdout, found)
	fmt.Fprintf(stdout, "\nFound %d card(s).\n", len(found))

	if !cfg.NoCaching {
		cacheSearchResults(cfg.DBPath, found, stderr)
	}
	return 0
}

// searchLocal answers a search from the cache alone. Useful offline, and
// the only mode that never touches the network.
func searchLocal(cfg *SearchConfig, mode cards.SearchMode, query string, stdout, stderr io.Writer) int {
	store, err := openCardStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	var recs []*storage.CardRecord

	switch mode {
	case cards.SearchID:
		id, err := strconv.ParseInt(query, 10, 64)
		if err != nil {
			fmt.Fprintf(stderr, "Error: id query must be numeric, got %q\n", query)
			return 1
		}
		rec, err := store.GetCard(id)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if rec != nil {
			recs = append(recs, rec)
		}

	default:
		recs, err = store.SearchCardsByName(query)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if mode == cards.SearchExact {
			exact := recs[:0]
			for _, rec := range recs {
				if strings.EqualFold(rec.Name, query) {
					exact = append(exact, rec)
				}
			}
			recs = exact
		}
	}

	if len(recs) == 0 {
		fmt.Fprintf(stdout, "No cached cards found for %q.\n", query)
		return 0
	}

	found := make([]cards.Card, 0, len(recs))
	for _, rec := range recs {
		found = append(found, cardFromRecord(rec))
	}
	renderCardTable(stdout, found)
	fmt.Fprintf(stdout, "\nFound %d cached card(s).\n", len(found))
	return 0
}

// openCardStore opens the card cache at dbPath, resolving defaults.
func openCardStore(dbPath string) (*storage.SQLiteStore, error) {
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	imageDir, err := config.DefaultImageDir()
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteStore(dbPath, imageDir)
}

// cacheSearchResults stores remote results locally so later lookups,
// including tag hydration, work offline. Failures are warnings; the
// search itself already succeeded.
func cacheSearchResults(dbPath string, found []cards.Card, stderr io.Writer) {
	store, err := openCardStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: could not open cache: %v\n", err)
		return
	}
	defer store.Close()

	for i := range found {
		rec := &storage.CardRecord{
			ID:        found[i].ID,
			Name:      found[i].Name,
			Data:      string(found[i].Raw),
			FetchedAt: time.Now(),
		}
		if err := store.UpsertCard(rec); err != nil {
			fmt.Fprintf(stderr, "Warning: caching card %d failed: %v\n", found[i].ID, err)
		}
	}
}

// cardFromRecord rebuilds a card from its cached API document. A record
// whose document no longer parses still renders with id and name.
func cardFromRecord(rec *storage.CardRecord) cards.Card {
	var card cards.Card
	if err := json.Unmarshal([]byte(rec.Data), &card); err != nil {
		return cards.Card{ID: rec.ID, Name: rec.Name}
	}
	card.ID = rec.ID
	card.Name = rec.Name
	card.Raw = json.RawMessage(rec.Data)
	return card
}

// renderCardTable prints cards in a table. Spells and traps have no
// atk/def/level, shown as "-".
func renderCardTable(out io.Writer, found []cards.Card) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tRACE\tATK\tDEF")
	fmt.Fprintln(w, "--\t----\t----\t----\t---\t---")
	for i := range found {
		card := &found[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			card.ID,
			card.Name,
			card.Type,
			card.Race,
			formatStat(card.Atk),
			formatStat(card.Def),
		)
	}
	w.Flush()
}

// formatStat renders an optional numeric stat.
func formatStat(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
