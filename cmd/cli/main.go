package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/app"
	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/drafts"
	"github.com/dvloznov/statement-booking/internal/gcsuploader"
	"github.com/dvloznov/statement-booking/internal/logger"
	"github.com/dvloznov/statement-booking/internal/notionsync"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	commands := map[string]func(log zerolog.Logger, args []string){
		"import":      runImport,
		"upload":      runUpload,
		"list":        runList,
		"show":        runShow,
		"classify":    runClassify,
		"validate":    runValidate,
		"book":        runBook,
		"cancel":      runCancel,
		"sync-notion": runSyncNotion,
	}

	switch cmd := os.Args[1]; cmd {
	case "help", "-h", "--help":
		printUsage()
	default:
		run, ok := commands[cmd]
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
			printUsage()
			os.Exit(1)
		}
		run(log, os.Args[2:])
	}
}

func printUsage() {
	fmt.Println("Statement Booking CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import       Import a statement file from disk or GCS into drafts")
	fmt.Println("  upload       Upload a statement file to GCS")
	fmt.Println("  list         List open drafts")
	fmt.Println("  show         Show a draft and its entries")
	fmt.Println("  classify     Re-classify a draft")
	fmt.Println("  validate     Validate a draft")
	fmt.Println("  book         Book a draft or one of its entries")
	fmt.Println("  cancel       Delete an open draft")
	fmt.Println("  sync-notion  Export postings to a Notion database")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nEvery command except upload takes -owner (or OWNER_ID env) and -config.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

// commonFlags registers the flags shared by every command that talks to the services.
type commonFlags struct {
	owner  *string
	config *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		owner:  fs.String("owner", os.Getenv("OWNER_ID"), "Owner (user) ID"),
		config: fs.String("config", os.Getenv("CONFIG_FILE"), "Path to an optional YAML config file"),
	}
}

// setup loads the configuration and wires the services. The caller must Close the app.
func setup(log zerolog.Logger, cf commonFlags) (context.Context, context.CancelFunc, *app.App, zerolog.Logger) {
	if *cf.owner == "" {
		log.Fatal().Msg("Error: -owner is required")
	}
	cfg, err := config.Load(*cf.config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Store == "memory" {
		log.Fatal().Msg("The CLI needs a persistent store; set STORE=bigquery")
	}
	log = log.With().Str("owner_id", *cf.owner).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	ctx = logger.WithContext(ctx, log)

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	return ctx, cancel, services, log
}

func runImport(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("import")
	filePath := fs.String("file", "", "Path to a local statement file")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the statement file")
	fs.Parse(args)

	if (*filePath == "") == (*gcsURI == "") {
		log.Fatal().Msg("Error: exactly one of -file or -gcs-uri is required")
	}

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	req := drafts.ImportRequest{OwnerID: *cf.owner, GCSURI: *gcsURI}
	if *filePath != "" {
		data, err := os.ReadFile(*filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read file")
		}
		req.FileName = filepath.Base(*filePath)
		req.Data = data
	}

	res, err := services.Drafts.Import(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	fmt.Printf("Upload group %s: %d draft(s) from %d movement(s)\n",
		res.UploadGroupID, len(res.Drafts), res.SplitInfo.TotalMovements)
	if res.AccountID == "" {
		fmt.Println("No matching account found; assign one before booking.")
	}
	for _, d := range res.Drafts {
		printDraftLine(d)
	}
}

func runUpload(log zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to statements/<filename>)")
	filePath := fs.String("file", "", "Path to local statement file")
	fs.Parse(args)

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}
	if *objectName == "" {
		*objectName = "statements/" + filepath.Base(*filePath)
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}

	ctx := logger.WithContext(context.Background(), log)
	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	client := gcsuploader.NewClient()
	defer client.Close()

	uri, err := client.Upload(ctx, *bucketName, *objectName, data, contentTypeFor(*filePath))
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	fmt.Printf("Uploaded %s to %s\n", *filePath, uri)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

func runList(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("list")
	fs.Parse(args)

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	open, err := services.Drafts.ListOpen(ctx, *cf.owner)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list drafts")
	}
	fmt.Printf("%d open draft(s)\n", len(open))
	for _, d := range open {
		printDraftLine(d)
	}
}

func runShow(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("show")
	draftID := fs.String("draft", "", "Draft ID")
	fs.Parse(args)
	requireDraft(log, *draftID)

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	d, err := services.Drafts.Get(ctx, *cf.owner, *draftID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load draft")
	}

	fmt.Println("\n=== Draft Details ===")
	fmt.Printf("ID:          %s\n", d.ID)
	fmt.Printf("Description: %s\n", d.Description)
	fmt.Printf("Account:     %s\n", d.DetectedAccountID)
	fmt.Printf("Status:      %s\n", d.Status)
	fmt.Printf("Created:     %s\n", d.CreatedAt.Format(time.RFC3339))

	fmt.Printf("\n=== Entries (%d) ===\n", len(d.Entries))
	for i, e := range d.Entries {
		fmt.Printf("\n%d. %s\n", i+1, e.Subject)
		fmt.Printf("   Date:      %s\n", e.BookingDate.Format(time.DateOnly))
		fmt.Printf("   Amount:    %s %s\n", e.Amount.StringFixed(2), e.CurrencyCode)
		fmt.Printf("   Status:    %s\n", e.Status)
		if e.RecipientName != "" {
			fmt.Printf("   Recipient: %s\n", e.RecipientName)
		}
		if e.ContactID != "" {
			fmt.Printf("   Contact:   %s\n", e.ContactID)
		}
		if e.SplitDraftID != "" {
			fmt.Printf("   Split:     %s\n", e.SplitDraftID)
		}
	}
	fmt.Println()
}

func runClassify(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("classify")
	draftID := fs.String("draft", "", "Draft ID (omit to re-classify every open draft)")
	fs.Parse(args)

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	if *draftID == "" {
		n, err := services.Drafts.ClassifyAllOpen(ctx, *cf.owner)
		if err != nil {
			log.Fatal().Err(err).Msg("Classification failed")
		}
		fmt.Printf("Re-classified %d open draft(s)\n", n)
		return
	}

	res, err := services.Drafts.Classify(ctx, *cf.owner, *draftID)
	if err != nil {
		log.Fatal().Err(err).Msg("Classification failed")
	}
	fmt.Printf("Accounted: %d, needs check: %d, unresolved: %d, duplicates: %d\n",
		res.Stats.Accounted, res.Stats.NeedsCheck, res.Stats.Unresolved, res.Duplicates)
}

func runValidate(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("validate")
	draftID := fs.String("draft", "", "Draft ID")
	entryID := fs.String("entry", "", "Validate a single entry")
	fs.Parse(args)
	requireDraft(log, *draftID)

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	vr, err := services.Drafts.Validate(ctx, *cf.owner, *draftID, *entryID)
	if err != nil {
		log.Fatal().Err(err).Msg("Validation failed")
	}
	printValidation(vr)
	if !vr.IsValid {
		os.Exit(2)
	}
}

func runBook(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("book")
	draftID := fs.String("draft", "", "Draft ID")
	entryID := fs.String("entry", "", "Book a single entry")
	force := fs.Bool("force-warnings", false, "Book even when validation reports warnings")
	fs.Parse(args)
	requireDraft(log, *draftID)

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	res, err := services.Drafts.Book(ctx, *cf.owner, *draftID, *entryID, *force)
	if err != nil {
		log.Fatal().Err(err).Msg("Booking failed")
	}
	printValidation(res.Validation)
	if !res.Success {
		if res.HasWarnings {
			fmt.Println("Not booked: rerun with -force-warnings to accept the warnings.")
		} else {
			fmt.Println("Not booked.")
		}
		os.Exit(2)
	}
	fmt.Printf("Booked %d entr(ies).\n", res.BookedCount)
	if res.NextOpenDraftID != "" && res.NextOpenDraftID != *draftID {
		fmt.Printf("Next open draft: %s\n", res.NextOpenDraftID)
	}
}

func runCancel(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("cancel")
	draftID := fs.String("draft", "", "Draft ID")
	fs.Parse(args)
	requireDraft(log, *draftID)

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	if err := services.Drafts.Cancel(ctx, *cf.owner, *draftID); err != nil {
		log.Fatal().Err(err).Msg("Cancel failed")
	}
	fmt.Printf("Draft %s deleted.\n", *draftID)
}

func runSyncNotion(log zerolog.Logger, args []string) {
	fs, cf := newFlagSet("sync-notion")
	sinceStr := fs.String("since", "", "Export postings created on or after this date, YYYY-MM-DD (required)")
	notionToken := fs.String("notion-token", "", "Notion API token (defaults to notion.token / NOTION_TOKEN)")
	notionDBID := fs.String("notion-db-id", "", "Notion database ID (defaults to notion.database_id / NOTION_DATABASE_ID)")
	dryRun := fs.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	refresh := fs.Bool("refresh", false, "Update pages that already exist")
	fs.Parse(args)

	if *sinceStr == "" {
		log.Fatal().Msg("Error: -since is required")
	}
	since, err := time.Parse(time.DateOnly, *sinceStr)
	if err != nil {
		log.Fatal().Err(err).Str("since", *sinceStr).Msg("Error: invalid since format, expected YYYY-MM-DD")
	}

	ctx, cancel, services, log := setup(log, cf)
	defer cancel()
	defer services.Close()

	if *notionToken == "" {
		*notionToken = services.Config.Notion.Token
	}
	if *notionDBID == "" {
		*notionDBID = services.Config.Notion.DatabaseID
	}
	if *notionToken == "" || *notionDBID == "" {
		log.Fatal().Msg("Error: a Notion token and database ID are required")
	}

	log.Info().Str("since", *sinceStr).Bool("dry_run", *dryRun).Msg("Starting Notion sync")

	stats, err := notionsync.SyncPostings(ctx, services.Repo, notionsync.NewNotionClient(*notionToken), notionsync.Options{
		OwnerID:    *cf.owner,
		DatabaseID: *notionDBID,
		Since:      since,
		DryRun:     *dryRun,
		Refresh:    *refresh,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}
	fmt.Printf("Synced %d posting(s): %d created, %d updated, %d skipped, %d failed\n",
		stats.Total, stats.Created, stats.Updated, stats.Skipped, stats.Failed)
}

func requireDraft(log zerolog.Logger, draftID string) {
	if draftID == "" {
		log.Fatal().Msg("Error: -draft is required")
	}
}

func printDraftLine(d *domain.StatementDraft) {
	fmt.Printf("  %s  %-40s  %3d entries  %s\n", d.ID, d.Description, len(d.Entries), d.Status)
}

func printValidation(vr *domain.ValidationResult) {
	if vr == nil {
		return
	}
	for _, m := range vr.Messages {
		target := m.DraftID
		if m.EntryID != "" {
			target += "/" + m.EntryID
		}
		fmt.Printf("[%s] %s %s: %s\n", m.Severity, m.Code, target, m.Message)
	}
	if vr.IsValid {
		fmt.Println("Draft is valid.")
	}
}
