// Command bptreedemo is an interactive shell over one B+-tree index file:
// insert/delete/scan/stats against a live tree, plus a `load` subcommand
// that bulk-builds several independent index files in parallel for a quick
// throughput check.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	novasql "github.com/tuannm99/novasql/internal"
	"github.com/tuannm99/novasql/internal/btree"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/storage"
)

func main() {
	fs := pflag.NewFlagSet("bptreedemo", pflag.ExitOnError)
	novasql.BindFlags(fs)
	configPath := fs.String("config", "bptreedemo.yaml", "config file path")
	loadN := fs.Int("load", 0, "bulk-build N independent index files in parallel, then exit")
	fs.Parse(os.Args[1:])

	cfg, _, err := novasql.LoadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setLogLevel(cfg.LogLevel)

	if *loadN > 0 {
		if err := bulkBuild(cfg, *loadN); err != nil {
			fmt.Fprintf(os.Stderr, "load: %v\n", err)
			os.Exit(1)
		}
		return
	}

	db, err := openDemoDB(cfg, cfg.IndexName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	runRepl(db.Tree())
}

func setLogLevel(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetLogLoggerLevel(l)
}

func openDemoDB(cfg *novasql.NovaSqlConfig, indexName string) (*novasql.Database, error) {
	fs := storage.LocalFileSet{Dir: cfg.DataDir, Base: indexName}
	return novasql.OpenDatabase(fs, cfg.BufferPoolSize, schema.Int64Schema{}, cfg.Unique)
}

// bulkBuild builds n independent index files concurrently, each seeded with
// random int64 keys, and reports how many records each accepted. This is
// the one place a tree-building workload runs concurrently — each worker
// owns its own Tree and buffer pool, so there is no shared mutable state
// across goroutines.
func bulkBuild(cfg *novasql.NovaSqlConfig, n int) error {
	p := pool.New().WithErrors().WithMaxGoroutines(n)
	results := make([]int, n)

	for i := range n {
		p.Go(func() error {
			indexName := fmt.Sprintf("%s_%d", cfg.IndexName, i)
			db, err := openDemoDB(cfg, indexName)
			if err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}

			items := make([]btree.BulkLoadItem, 1000)
			r := rand.New(rand.NewSource(int64(i)))
			for j := range items {
				items[j] = btree.BulkLoadItem{
					Key: []schema.FieldValue{int64(r.Int63n(1_000_000))},
					Rid: btree.RID{PageID: uint32(j) + 1, SlotID: 1},
				}
			}

			inserted, err := db.Tree().BulkLoad(btree.NewBulkLoadSlice(items))
			if cerr := db.Close(); cerr != nil {
				err = multierr.Append(err, cerr)
			}
			results[i] = inserted
			return err
		})
	}

	if err := p.Wait(); err != nil {
		return err
	}
	for i, r := range results {
		fmt.Printf("shard %d: %d records inserted\n", i, r)
	}
	return nil
}

func runRepl(tree *btree.Tree) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bptree> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryFile:     defaultHistoryPath(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("type help for a command list")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := dispatch(tree, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func dispatch(tree *btree.Tree, line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "quit", "exit":
		os.Exit(0)
	case "help":
		fmt.Println(`commands:
  insert <key> <page_id> <slot_id>   insert (key -> heap recid)
  delete <key>                       delete the first record matching key
  get <key>                          print all records matching key
  scan [lo] [hi]                     forward scan, bounds optional
  stats                              height / leaf count / record count
  validate                           walk the tree checking every invariant
  dump                               print the whole tree structure
  quit                               exit`)
	case "insert":
		return cmdInsert(tree, args)
	case "delete":
		return cmdDelete(tree, args)
	case "get":
		return cmdGet(tree, args)
	case "scan":
		return cmdScan(tree, args)
	case "stats":
		return cmdStats(tree)
	case "validate":
		if err := tree.Validate(); err != nil {
			return err
		}
		fmt.Println("ok")
	case "dump":
		s, err := tree.DebugDump()
		if err != nil {
			return err
		}
		fmt.Print(s)
	default:
		fmt.Printf("unknown command: %s (try 'help')\n", cmd)
	}
	return nil
}

func cmdInsert(tree *btree.Tree, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: insert <key> <page_id> <slot_id>")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	pageID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return err
	}
	slotID, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return err
	}
	ok, err := tree.InsertKey([]schema.FieldValue{key}, btree.RID{PageID: uint32(pageID), SlotID: int32(slotID)})
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("rejected (duplicate key on a unique tree)")
		return nil
	}
	fmt.Println("ok")
	return nil
}

func cmdDelete(tree *btree.Tree, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <key>")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	ok, rid, err := tree.DeleteKey([]schema.FieldValue{key}, nil)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	fmt.Printf("deleted -> %+v\n", rid)
	return nil
}

func cmdGet(tree *btree.Tree, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	it, err := tree.StartScan([]schema.FieldValue{key}, false, []schema.FieldValue{key}, false)
	if err != nil {
		return err
	}
	defer it.EndScan()
	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Printf("%v -> %+v\n", it.GetCurrentItem(), it.GetCurrentRecordId())
	}
}

func cmdScan(tree *btree.Tree, args []string) error {
	var lo, hi []schema.FieldValue
	if len(args) > 0 && args[0] != "-" {
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		lo = []schema.FieldValue{v}
	}
	if len(args) > 1 && args[1] != "-" {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		hi = []schema.FieldValue{v}
	}
	it, err := tree.StartScan(lo, false, hi, false)
	if err != nil {
		return err
	}
	defer it.EndScan()
	n := 0
	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Printf("%v -> %+v\n", it.GetCurrentItem(), it.GetCurrentRecordId())
		n++
	}
	fmt.Printf("(%d rows)\n", n)
	return nil
}

func cmdStats(tree *btree.Tree) error {
	st, err := tree.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("height=%d leaves=%d records=%d\n", st.Height, st.LeafCount, st.RecordCount)
	return nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".bptreedemo_history"
	}
	return filepath.Join(home, ".bptreedemo_history")
}
