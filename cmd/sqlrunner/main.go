// Command sqlrunner sends a file of SQL statements to a named pool
// configured in a properties file, the Go analogue of the original's
// SQLUpdate command-line utility.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dryyun/dbpool/config"
	"github.com/dryyun/dbpool/dbconn"
	"github.com/dryyun/dbpool/poolmanager"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		propsFile string
		poolName  string
		sqlFile   string
		separator string
		logPath   string
	)

	cmd := &cobra.Command{
		Use:   "sqlrunner",
		Short: "Run a file of SQL statements against a configured pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(propsFile, poolName, sqlFile, separator, logPath)
		},
	}
	cmd.Flags().StringVar(&propsFile, "props", "dbpool.properties", "path to the pool configuration properties file")
	cmd.Flags().StringVar(&poolName, "pool", "", "name of the pool to run statements against (required)")
	cmd.Flags().StringVar(&sqlFile, "file", "", "path to the SQL script file (required)")
	cmd.Flags().StringVar(&separator, "separator", "", "statement delimiter; if unset, each non-blank, non-comment line is its own statement")
	cmd.Flags().StringVar(&logPath, "log", "SQLUpdate.log", "path to append failed statements and their errors to")
	cmd.MarkFlagRequired("pool")
	cmd.MarkFlagRequired("file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

// exitCode lets execute report an argument, file, or connection
// failure as exit code 1 without Cobra's own error-handling path
// getting in the way. Per-statement SQL failures are reported via the
// "x" progress output and the failure log instead; they do not set
// this, matching the original's exit-code contract.
var exitCode int

func execute(propsFile, poolName, sqlFile, separator, logPath string) error {
	contents, err := os.ReadFile(sqlFile)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("sqlrunner: reading %s: %w", sqlFile, err)
	}

	cfgFile, err := config.Load(propsFile)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("sqlrunner: loading %s: %w", propsFile, err)
	}
	logger := config.NewLogger(cfgFile.LogFile, cfgFile.DateFormat)
	defer logger.Sync()

	mgr, err := poolmanager.New(propsFile, poolmanager.DefaultDrivers(), logger)
	if mgr == nil {
		exitCode = 1
		return fmt.Errorf("sqlrunner: loading %s: %w", propsFile, err)
	}
	if err != nil {
		logger.Warn("sqlrunner: some pools failed to load", zap.Error(err))
	}
	defer mgr.ReleaseAll(false)

	pool, ok := mgr.Pool(poolName)
	if !ok {
		exitCode = 1
		return fmt.Errorf("sqlrunner: no pool named %q in %s", poolName, propsFile)
	}

	sess, err := pool.Get()
	if err != nil {
		exitCode = 1
		return fmt.Errorf("sqlrunner: checking out a session from %q: %w", poolName, err)
	}
	defer sess.Close()

	stmt, err := sess.CreateStatement(dbconn.DefaultMode)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("sqlrunner: creating a statement on %q: %w", poolName, err)
	}
	defer stmt.Close()

	var failLog strings.Builder
	ctx := context.Background()

	// A failed statement is logged and counted in the "x" progress
	// output, but does not affect the process exit code: the original
	// SQLUpdate never exits nonzero for a per-statement SQL error, only
	// for an argument, file, or connection failure (handled above).
	for _, sqlText := range splitStatements(string(contents), separator) {
		if _, err := stmt.ExecContext(ctx, sqlText); err != nil {
			fmt.Print("x")
			failLog.WriteString("\n" + sqlText + "\n" + err.Error() + "\n")
		} else {
			fmt.Print(".")
		}
	}
	fmt.Println()

	if failLog.Len() > 0 {
		if werr := appendLog(logPath, failLog.String()); werr != nil {
			fmt.Fprintln(os.Stderr, werr)
		}
	}
	return nil
}

// splitStatements implements the original's two modes: with no
// separator, every non-blank, non-comment line is its own statement;
// with a separator, lines accumulate until the separator is seen
// (comment lines reset the accumulator instead of being appended).
func splitStatements(contents, separator string) []string {
	var stmts []string
	scanner := bufio.NewScanner(strings.NewReader(contents))

	if separator == "" {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
				continue
			}
			stmts = append(stmts, line)
		}
		return stmts
	}

	var acc strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
			acc.Reset()
			continue
		}
		if pos := strings.Index(line, separator); pos >= 0 {
			acc.WriteString(line[:pos])
			stmts = append(stmts, acc.String())
			acc.Reset()
		} else {
			acc.WriteString(line)
		}
	}
	return stmts
}

func appendLog(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(text)
	return err
}
