// Package main provides the OpenDB CLI entry point.
//
// The CLI is a thin inspection and maintenance tool over the embedded
// library: key-value get/put/delete, record listing, and index rebuild.
// Applications embed the library directly.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muhammad-fiaz/OpenDB/pkg/opendb"
)

var (
	flagPath   string
	flagConfig string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opendb",
		Short: "OpenDB - embedded multi-model database for agent memory",
		Long: `OpenDB is an embedded database exposing four co-resident data models
over a single transactional key-value backend:

  • Raw byte key-value store
  • Structured memory records with metadata and embeddings
  • Directed labeled property graph
  • Approximate-nearest-neighbor vector search (HNSW)`,
	}

	rootCmd.PersistentFlags().StringVar(&flagPath, "path", "./data", "Database directory")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML options file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("OpenDB v%s\n", opendb.Version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show database path, version, record count, and index state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				ids, err := db.ListMemoryIDs("")
				if err != nil {
					return err
				}
				fmt.Printf("path:     %s\n", flagPath)
				fmt.Printf("version:  %s\n", opendb.Version)
				fmt.Printf("records:  %d\n", len(ids))
				fmt.Printf("stale:    %v\n", db.VectorIndexStale())
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Get a raw key-value entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				value, ok, err := db.Get([]byte(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not found", args[0])
				}
				fmt.Println(string(value))
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a raw key-value entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				return db.Put([]byte(args[0]), []byte(args[1]))
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "del <key>",
		Short: "Delete a raw key-value entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				return db.Delete([]byte(args[0]))
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "scan [prefix]",
		Short: "List raw key-value entries under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withDB(func(db *opendb.DB) error {
				pairs, err := db.ScanPrefix([]byte(prefix))
				if err != nil {
					return err
				}
				for _, p := range pairs {
					fmt.Printf("%s\t%s\n", string(p.Key), string(p.Value))
				}
				return nil
			})
		},
	})

	memCmd := &cobra.Command{
		Use:   "mem",
		Short: "Inspect memory records",
	}
	memCmd.AddCommand(&cobra.Command{
		Use:   "list [prefix]",
		Short: "List memory record IDs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withDB(func(db *opendb.DB) error {
				ids, err := db.ListMemoryIDs(prefix)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	})
	memCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print one memory record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				mem, ok, err := db.GetMemory(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("memory %q not found", args[0])
				}
				out, err := json.MarshalIndent(mem, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	})
	memCmd.AddCommand(&cobra.Command{
		Use:   "del <id>",
		Short: "Delete a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				return db.DeleteMemory(args[0])
			})
		},
	})
	rootCmd.AddCommand(memCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from persisted embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *opendb.DB) error {
				return db.RebuildVectorIndex()
			})
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withDB opens the database for one command and closes it afterwards.
func withDB(fn func(*opendb.DB) error) error {
	opts := opendb.DefaultOptions()
	if flagConfig != "" {
		loaded, err := opendb.LoadOptionsFile(flagConfig)
		if err != nil {
			return err
		}
		opts = loaded
	}

	db, err := opendb.OpenWithOptions(flagPath, opts)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
