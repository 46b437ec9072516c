package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tagdeck/host/internal/cards"
	"github.com/tagdeck/host/internal/config"
	"github.com/tagdeck/host/internal/storage"
)

// ShowConfig holds the configuration for the show command.
type ShowConfig struct {
	DBPath     string
	APIBaseURL string
	Images     bool
	Refresh    bool
}

func runShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ShowConfig{}
	fs.StringVar(&cfg.DBPath, "db", "", "Path to the card cache database (default: ~/.tagdeck/tagdeck.db)")
	fs.StringVar(&cfg.APIBaseURL, "api-url", "", "Card database endpoint (default: "+config.DefaultAPIBaseURL+")")
	fs.BoolVar(&cfg.Images, "images", false, "Download and cache the card artwork")
	fs.BoolVar(&cfg.Refresh, "refresh", false, "Fetch from the remote database even if cached")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck show [options] <id>\n\nShow one card by its passcode, from the cache when possible.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one card id is required")
		fs.Usage()
		return 1
	}

	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(stderr, "Error: id must be a positive number, got %q\n", fs.Arg(0))
		return 1
	}

	store, err := openCardStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	card, source, err := lookupCard(cfg, store, id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	renderCardDetail(stdout, card, source)

	if cfg.Images {
		fetchCardImages(cfg, store, card, stdout, stderr)
	}
	return 0
}

// lookupCard finds the card in the cache or the remote database, warming
// the cache on a remote hit. source is "cache" or "remote".
func lookupCard(cfg *ShowConfig, store *storage.SQLiteStore, id int64) (*cards.Card, string, error) {
	if !cfg.Refresh {
		rec, err := store.GetCard(id)
		if err != nil {
			return nil, "", err
		}
		if rec != nil {
			card := cardFromRecord(rec)
			return &card, "cache", nil
		}
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = config.DefaultAPIBaseURL
	}
	client := cards.NewClient(cards.ClientConfig{BaseURL: baseURL})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	found, _, err := client.Search(ctx, cards.SearchID, strconv.FormatInt(id, 10))
	if err != nil {
		return nil, "", err
	}
	if len(found) == 0 {
		return nil, "", fmt.Errorf("card %d not found", id)
	}

	card := &found[0]
	if err := store.UpsertCard(&storage.CardRecord{
		ID:        card.ID,
		Name:      card.Name,
		Data:      string(card.Raw),
		FetchedAt: time.Now(),
	}); err != nil {
		return nil, "", fmt.Errorf("caching card %d failed: %w", card.ID, err)
	}
	return card, "remote", nil
}

// renderCardDetail prints one card in full.
func renderCardDetail(out io.Writer, card *cards.Card, source string) {
	fmt.Fprintf(out, "%s  (from %s)\n", card.Name, source)
	fmt.Fprintf(out, "  ID:        %d\n", card.ID)
	fmt.Fprintf(out, "  Type:      %s\n", card.Type)
	if card.Race != "" {
		fmt.Fprintf(out, "  Race:      %s\n", card.Race)
	}
	if card.Attribute != "" {
		fmt.Fprintf(out, "  Attribute: %s\n", card.Attribute)
	}
	if card.Level != nil {
		fmt.Fprintf(out, "  Level:     %d\n", *card.Level)
	}
	if card.Atk != nil {
		fmt.Fprintf(out, "  ATK:       %d\n", *card.Atk)
	}
	if card.Def != nil {
		fmt.Fprintf(out, "  DEF:       %d\n", *card.Def)
	}
	if card.Desc != "" {
		fmt.Fprintln(out, "")
		for _, line := range strings.Split(card.Desc, "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	if len(card.Sets) > 0 {
		fmt.Fprintln(out, "")
		fmt.Fprintf(out, "  Printings (%d):\n", len(card.Sets))
		for _, set := range card.Sets {
			fmt.Fprintf(out, "    %-14s %-6s %s\n", set.Code, set.RarityCode, set.Name)
		}
	}
}

// fetchCardImages downloads and caches the card artwork. The card row is
// already cached by lookupCard, which SaveImage requires.
func fetchCardImages(cfg *ShowConfig, store *storage.SQLiteStore, card *cards.Card, stdout, stderr io.Writer) {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = config.DefaultAPIBaseURL
	}
	client := cards.NewClient(cards.ClientConfig{BaseURL: baseURL})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	variants := []struct {
		name string
		url  string
	}{
		{storage.VariantSmall, card.SmallImageURL()},
		{storage.VariantCropped, card.CroppedImageURL()},
	}

	for _, v := range variants {
		if v.url == "" {
			fmt.Fprintf(stderr, "Warning: no %s artwork listed for card %d\n", v.name, card.ID)
			continue
		}
		data, err := client.FetchImage(ctx, v.url)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: fetching %s artwork failed: %v\n", v.name, err)
			continue
		}
		rel, err := store.SaveImage(card.ID, v.name, data)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: saving %s artwork failed: %v\n", v.name, err)
			continue
		}
		fmt.Fprintf(stdout, "Saved %s artwork: %s\n", v.name, store.ResolveImage(rel))
	}
}
