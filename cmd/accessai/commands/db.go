package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the accessai database",
	Long: sym.DB + ` db — database operations

Examples:
  accessai db migrate     # Apply pending migrations
  accessai db stats       # Row counts per table and status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		var version int
		if err := database.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
			return errors.Wrap(err, "failed to read schema version")
		}
		fmt.Printf("%s Database is at schema version %d\n", sym.DB, version)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts per table and status",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd, dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	path, err := databasePath()
	if err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	groups := []struct {
		title string
		query string
	}{
		{"Executions", "SELECT status, COUNT(*) FROM job_executions GROUP BY status ORDER BY status"},
		{"Experiments", "SELECT status, COUNT(*) FROM experiments GROUP BY status ORDER BY status"},
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n\n", path)

	var jobs, variants int
	if err := database.QueryRow("SELECT COUNT(*) FROM scheduled_jobs").Scan(&jobs); err != nil {
		return errors.Wrap(err, "failed to count scheduled jobs")
	}
	if err := database.QueryRow("SELECT COUNT(*) FROM experiment_variants").Scan(&variants); err != nil {
		return errors.Wrap(err, "failed to count variants")
	}

	rows := [][]string{
		{"Scheduled jobs", "", strconv.Itoa(jobs)},
		{"Variants", "", strconv.Itoa(variants)},
	}
	for _, g := range groups {
		counts, err := database.Query(g.query)
		if err != nil {
			return errors.Wrapf(err, "failed to count %s", g.title)
		}
		for counts.Next() {
			var status string
			var n int
			if err := counts.Scan(&status, &n); err != nil {
				counts.Close()
				return errors.Wrapf(err, "failed to scan %s count", g.title)
			}
			rows = append(rows, []string{g.title, statusCell(status), strconv.Itoa(n)})
		}
		err = counts.Err()
		counts.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to count %s", g.title)
		}
	}

	return renderTable([]string{"Table", "Status", "Rows"}, rows)
}
