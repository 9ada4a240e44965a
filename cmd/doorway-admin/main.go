// Command doorway-admin is the operator CLI: migrations, seeding, tenant
// onboarding, permission edits, ad-hoc security checks, and audit cleanup.
// It talks to PostgreSQL directly and never goes through the API server.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/doorwayhq/doorway/pkg/audit"
	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/orgs"
	"github.com/doorwayhq/doorway/pkg/plans"
	"github.com/doorwayhq/doorway/pkg/profiles"
	"github.com/doorwayhq/doorway/pkg/security"
	"github.com/doorwayhq/doorway/pkg/storage"
)

const usage = `Usage: doorway-admin <command> [flags]

Commands:
  migrate                  Run schema migrations
  seed                     Seed plan features and profile templates
  onboard                  Create an organization with its default profiles
  set-plan                 Change an organization's subscription plan
  set-object-permission    Upsert a profile's grant row for an object type
  set-field-permission     Upsert a profile's grant row for a field
  check                    Run a security check and print the decision
  sweep-audit              Purge audit events past the retention window

Every command reads the database URL from -db or DOORWAY_POSTGRES_URL.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := setupLogger(os.Getenv("DOORWAY_LOG_LEVEL"))

	var err error
	switch os.Args[1] {
	case "migrate":
		err = cmdMigrate(logger, os.Args[2:])
	case "seed":
		err = cmdSeed(logger, os.Args[2:])
	case "onboard":
		err = cmdOnboard(logger, os.Args[2:])
	case "set-plan":
		err = cmdSetPlan(logger, os.Args[2:])
	case "set-object-permission":
		err = cmdSetObjectPermission(logger, os.Args[2:])
	case "set-field-permission":
		err = cmdSetFieldPermission(logger, os.Args[2:])
	case "check":
		err = cmdCheck(logger, os.Args[2:])
	case "sweep-audit":
		err = cmdSweepAudit(logger, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal(err)
	}
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// dbFlag registers the shared -db flag on a command's flag set.
func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", os.Getenv("DOORWAY_POSTGRES_URL"), "PostgreSQL connection URL")
}

func connect(url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required (-db or DOORWAY_POSTGRES_URL)")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// quietLogger feeds the store layer, which logs through the structured
// logger; the CLI reports outcomes itself via logrus.
func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.WarnLevel, io.Discard)
}

func cmdMigrate(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbURL := dbFlag(fs)
	fs.Parse(args)

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.RunMigrations(context.Background(), db); err != nil {
		return err
	}

	logger.Info("Migrations complete")
	return nil
}

func cmdSeed(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	dbURL := dbFlag(fs)
	orgID := fs.Int64("org", 0, "also seed the default profiles for this organization")
	fs.Parse(args)

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := plans.SeedPlanFeatures(ctx, plans.NewPostgresStore(db), quietLogger()); err != nil {
		return err
	}
	logger.Info("Plan feature matrix seeded")

	profileStore := profiles.NewStore(db)
	if err := profiles.SeedGlobalTemplates(ctx, profileStore, quietLogger()); err != nil {
		return err
	}
	logger.Info("Global profile templates seeded")

	if *orgID != 0 {
		ids, err := profiles.SeedDefaultProfiles(ctx, profileStore, *orgID, quietLogger())
		if err != nil {
			return err
		}
		logger.WithField("profiles", len(ids)).Infof("Default profiles seeded for organization %d", *orgID)
	}

	return nil
}

func cmdOnboard(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("onboard", flag.ExitOnError)
	dbURL := dbFlag(fs)
	name := fs.String("name", "", "organization name")
	slug := fs.String("slug", "", "organization slug")
	plan := fs.String("plan", plans.PlanFreemium, "subscription plan")
	founder := fs.Int64("founder", 0, "user ID of the founding member")
	fs.Parse(args)

	if *name == "" || *slug == "" || *founder == 0 {
		return fmt.Errorf("-name, -slug and -founder are required")
	}

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	org := &orgs.Organization{Name: *name, Slug: *slug, PlanName: *plan}
	member, err := orgs.Onboard(context.Background(), orgs.NewStore(db), profiles.NewStore(db), org, *founder, quietLogger())
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"organization_id": org.ID,
		"member_id":       member.ID,
	}).Infof("Organization %q onboarded on plan %s", org.Slug, org.PlanName)
	return nil
}

func cmdSetPlan(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("set-plan", flag.ExitOnError)
	dbURL := dbFlag(fs)
	orgID := fs.Int64("org", 0, "organization ID")
	plan := fs.String("plan", "", "subscription plan")
	fs.Parse(args)

	if *orgID == 0 || *plan == "" {
		return fmt.Errorf("-org and -plan are required")
	}

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := orgs.NewStore(db).UpdatePlan(context.Background(), *orgID, *plan); err != nil {
		return err
	}

	logger.Infof("Organization %d moved to plan %s", *orgID, *plan)
	return nil
}

func cmdSetObjectPermission(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("set-object-permission", flag.ExitOnError)
	dbURL := dbFlag(fs)
	profileID := fs.Int64("profile", 0, "profile ID")
	objectType := fs.String("object", "", "object type key")
	read := fs.Bool("read", false, "grant read")
	create := fs.Bool("create", false, "grant create")
	edit := fs.Bool("edit", false, "grant edit")
	del := fs.Bool("delete", false, "grant delete")
	viewAll := fs.Bool("view-all", false, "grant access to records owned by others")
	fs.Parse(args)

	if *profileID == 0 || *objectType == "" {
		return fmt.Errorf("-profile and -object are required")
	}

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	perm := &profiles.ObjectPermission{
		ProfileID:  *profileID,
		ObjectType: *objectType,
		CanRead:    *read,
		CanCreate:  *create,
		CanEdit:    *edit,
		CanDelete:  *del,
		CanViewAll: *viewAll,
	}
	if err := profiles.NewStore(db).SetObjectPermission(context.Background(), perm); err != nil {
		return err
	}

	logger.Infof("Profile %d on %s: access level %s", *profileID, *objectType, perm.AccessLevel)
	return nil
}

func cmdSetFieldPermission(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("set-field-permission", flag.ExitOnError)
	dbURL := dbFlag(fs)
	profileID := fs.Int64("profile", 0, "profile ID")
	objectType := fs.String("object", "", "object type key")
	field := fs.String("field", "", "field name")
	read := fs.Bool("read", false, "grant read")
	edit := fs.Bool("edit", false, "grant edit")
	sensitive := fs.Bool("sensitive", false, "mark the field as sensitive")
	fs.Parse(args)

	if *profileID == 0 || *objectType == "" || *field == "" {
		return fmt.Errorf("-profile, -object and -field are required")
	}

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	perm := &profiles.FieldPermission{
		ProfileID:   *profileID,
		ObjectType:  *objectType,
		FieldName:   *field,
		CanRead:     *read,
		CanEdit:     *edit,
		IsSensitive: *sensitive,
	}
	if err := profiles.NewStore(db).SetFieldPermission(context.Background(), perm); err != nil {
		return err
	}

	logger.Infof("Profile %d field %s.%s: read=%t edit=%t sensitive=%t", *profileID, *objectType, *field, *read, *edit, *sensitive)
	return nil
}

func cmdCheck(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	dbURL := dbFlag(fs)
	userID := fs.Int64("user", 0, "acting user ID")
	orgID := fs.Int64("org", 0, "organization ID")
	profileID := fs.Int64("profile", 0, "profile ID (0 resolves from membership)")
	plan := fs.String("plan", "", "plan name (empty resolves from the organization)")
	objectType := fs.String("object", "", "object type key")
	objectID := fs.Int64("id", 0, "record ID for the ownership level")
	action := fs.String("action", "read", "action to check")
	feature := fs.String("feature", "", "feature key (checks the plan gate only)")
	field := fs.String("field", "", "field name for the field level")
	fs.Parse(args)

	if *userID == 0 || *orgID == 0 {
		return fmt.Errorf("-user and -org are required")
	}
	if *feature == "" && *objectType == "" {
		return fmt.Errorf("-feature or -object is required")
	}

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	sc := &security.SecurityContext{UserID: *userID, OrganizationID: *orgID, PlanName: *plan}
	if *profileID != 0 {
		sc.ProfileID = profileID
	}
	if sc.ProfileID == nil || sc.PlanName == "" {
		member, err := orgs.NewStore(db).GetMember(ctx, *orgID, *userID)
		if err != nil {
			return fmt.Errorf("failed to resolve membership: %w", err)
		}
		if sc.ProfileID == nil {
			sc.ProfileID = member.ProfileID
		}
		if sc.PlanName == "" {
			sc.PlanName = member.PlanName
		}
	}

	registry := objects.NewRegistry(objects.NewPostgresStore(db), quietLogger(), nil)
	if err := registry.LoadPersisted(ctx); err != nil {
		return err
	}

	checker := security.NewChecker(
		plans.NewPostgresStore(db),
		profiles.NewStore(db),
		objects.NewResolver(db, registry),
		quietLogger(),
		nil,
	)

	params := security.CheckParams{
		FeatureKey: *feature,
		ObjectType: *objectType,
		Action:     security.Action(*action),
		FieldName:  *field,
	}
	if *objectID != 0 {
		params.ObjectID = objectID
	}

	result := checker.Check(ctx, sc, params)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return err
	}

	if !result.Allowed {
		os.Exit(1)
	}
	return nil
}

func cmdSweepAudit(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep-audit", flag.ExitOnError)
	dbURL := dbFlag(fs)
	retentionDays := fs.Int("retention-days", 90, "purge events older than this many days")
	fs.Parse(args)

	if *retentionDays <= 0 {
		return fmt.Errorf("-retention-days must be positive")
	}

	db, err := connect(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -*retentionDays)
	purged, err := audit.NewStore(db).Purge(context.Background(), cutoff)
	if err != nil {
		return err
	}

	logger.Infof("Purged %d audit events older than %s", purged, cutoff.Format(time.RFC3339))
	return nil
}
