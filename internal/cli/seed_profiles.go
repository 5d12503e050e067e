package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"aigateway/internal/profile/duckdb"
)

// profileSeed is the JSON document accepted by seed-profiles. Tier defaults
// and user overrides name models by slug; users map user id to tier to slug.
type profileSeed struct {
	Models       []string                     `json:"models"`
	TierDefaults map[string]string            `json:"tier_defaults"`
	Users        map[string]map[string]string `json:"users"`
}

// runSeedProfiles builds the handler for the seed-profiles command.
func runSeedProfiles(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		dbPath := flags.String("db", "", "DuckDB profile database path")
		input := flags.String("input", "", "Path to the seed JSON")
		fresh := flags.Bool("fresh", false, "Remove an existing database first")
		if code, ok := parseFlags(cmd, flags, args, stdout, stderr); !ok {
			return code
		}
		if *dbPath == "" || *input == "" {
			fmt.Fprintln(stderr, "--db and --input are required")
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}

		seed, err := loadProfileSeed(*input)
		if err != nil {
			fmt.Fprintf(stderr, "load seed: %v\n", err)
			return ExitError
		}
		if *fresh {
			if err := removeIfExists(*dbPath); err != nil {
				fmt.Fprintf(stderr, "%v\n", err)
				return ExitError
			}
		}
		if err := os.MkdirAll(dirOf(*dbPath), 0o755); err != nil {
			fmt.Fprintf(stderr, "mkdir output dir: %v\n", err)
			return ExitError
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		count, err := seedProfiles(ctx, *dbPath, seed)
		if err != nil {
			fmt.Fprintf(stderr, "seed profiles: %v\n", err)
			return ExitError
		}
		fmt.Fprintf(stdout, "Seeded %d models, %d tier defaults, %d users into %s\n",
			count, len(seed.TierDefaults), len(seed.Users), *dbPath)
		return ExitOK
	}
}

func loadProfileSeed(path string) (profileSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return profileSeed{}, err
	}
	var seed profileSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return profileSeed{}, err
	}
	return seed, nil
}

// seedProfiles registers every referenced slug and writes the tier and user
// rows. It returns the number of distinct models.
func seedProfiles(ctx context.Context, path string, seed profileSeed) (int, error) {
	store, err := duckdb.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	slugs := map[string]bool{}
	for _, slug := range seed.Models {
		slugs[slug] = true
	}
	for _, slug := range seed.TierDefaults {
		slugs[slug] = true
	}
	for _, tiers := range seed.Users {
		for _, slug := range tiers {
			slugs[slug] = true
		}
	}
	ordered := make([]string, 0, len(slugs))
	for slug := range slugs {
		ordered = append(ordered, slug)
	}
	sort.Strings(ordered)

	ids := make(map[string]string, len(ordered))
	for _, slug := range ordered {
		id, err := store.RegisterModel(ctx, slug)
		if err != nil {
			return 0, err
		}
		ids[slug] = id
	}
	for tier, slug := range seed.TierDefaults {
		if err := store.SetTierDefault(ctx, tier, ids[slug]); err != nil {
			return 0, err
		}
	}
	for user, tiers := range seed.Users {
		for tier, slug := range tiers {
			if err := store.SetUserModel(ctx, user, tier, ids[slug]); err != nil {
				return 0, err
			}
		}
	}
	return len(ordered), nil
}

// dirOf returns the parent directory for a file path.
func dirOf(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}

// removeIfExists deletes an existing database so seeding starts fresh.
func removeIfExists(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove existing database: %w", err)
		}
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("stat database: %w", err)
}
