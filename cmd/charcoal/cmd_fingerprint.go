package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/topics"
)

// fingerprintExport is the human-readable dump written by --export, one
// cluster per top-level key with its keyword weights underneath.
type fingerprintExport struct {
	PostCount int                        `yaml:"post_count"`
	UpdatedAt time.Time                  `yaml:"updated_at"`
	Clusters  []fingerprintExportCluster `yaml:"clusters"`
}

type fingerprintExportCluster struct {
	Label    string             `yaml:"label"`
	Weight   float64            `yaml:"weight"`
	Keywords map[string]float64 `yaml:"keywords"`
}

func newFingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Rebuild the protected account's topic fingerprint",
		Long: `fingerprint fetches the protected account's recent posts, extracts a
TF-IDF topic fingerprint, and — if the local embedding model is available —
attaches a centroid embedding used for cosine-similarity topic overlap.
Run this after the protected account's posting topics shift meaningfully;
scan and sweep read whatever fingerprint was last saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client := newClient(cfg)
			did, err := resolveProtectedDID(ctx, client, cfg)
			if err != nil {
				return fmt.Errorf("resolving protected handle: %w", err)
			}

			posts, err := client.GetRecentPosts(ctx, cfg.Bluesky.Handle, constants.DefaultFingerprintPostCount)
			if err != nil {
				return fmt.Errorf("fetching protected account's posts: %w", err)
			}
			if len(posts) == 0 {
				return fmt.Errorf("protected account %s has no posts to fingerprint", cfg.Bluesky.Handle)
			}

			texts := make([]string, len(posts))
			for i, p := range posts {
				texts[i] = p.Text
			}

			fp := topics.Extract(texts, topics.Options{})
			fp.UpdatedAt = time.Now()

			engine := newEmbeddingEngine(cfg)
			defer engine.Close()
			if engine.Available() {
				centroid, err := engine.Centroid(ctx, texts)
				if err != nil {
					fmt.Printf("warning: embedding centroid failed, fingerprint will use keyword overlap only: %v\n", err)
				} else {
					fp.Centroid = centroid
				}
			} else {
				fmt.Println("warning: embedding model not available, fingerprint will use keyword overlap only")
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening storage backend: %w", err)
			}
			defer st.Close()

			if err := st.SaveFingerprint(ctx, did, fp); err != nil {
				return fmt.Errorf("saving fingerprint: %w", err)
			}
			if len(fp.Centroid) > 0 {
				if err := st.SaveEmbedding(ctx, did, fp.Centroid); err != nil {
					return fmt.Errorf("saving protected centroid: %w", err)
				}
			}

			fmt.Printf("fingerprint built from %d posts: %d clusters\n", fp.PostCount, len(fp.Clusters))

			exportPath, _ := cmd.Flags().GetString("export")
			if exportPath != "" {
				if err := exportFingerprint(fp, exportPath); err != nil {
					return fmt.Errorf("exporting fingerprint: %w", err)
				}
				fmt.Printf("exported fingerprint to %s\n", exportPath)
			}
			return nil
		},
	}
	cmd.Flags().String("export", "", "write a human-readable YAML dump of the clusters and keywords to this path")
	return cmd
}

func exportFingerprint(fp models.TopicFingerprint, path string) error {
	out := fingerprintExport{
		PostCount: fp.PostCount,
		UpdatedAt: fp.UpdatedAt,
	}
	for _, c := range fp.Clusters {
		keywords := make(map[string]float64, len(c.Keywords))
		for _, kw := range c.Keywords {
			keywords[kw.Term] = kw.Weight
		}
		out.Clusters = append(out.Clusters, fingerprintExportCluster{
			Label:    c.Label,
			Weight:   c.Weight,
			Keywords: keywords,
		})
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
