package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/comments"
	"github.com/marcus/loom/internal/config"
	"github.com/marcus/loom/internal/output"
)

var commentsCmd = &cobra.Command{
	Use:     "comments <document-id>",
	Short:   "List a document's comment threads",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()
		cfg, err := config.Load(baseDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		showResolved, _ := cmd.Flags().GetBool("all")

		api := apiclient.New(cfg.EffectiveServerURL(), cfg.AuthToken)
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		records, err := api.ListComments(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}

		converted := make([]comments.Comment, 0, len(records))
		for _, r := range records {
			c, err := recordToComment(r)
			if err != nil {
				output.Warning("skipping malformed comment %s: %v", r.CommentID, err)
				continue
			}
			converted = append(converted, c)
		}

		threads := comments.BuildThreads(converted)
		ordered := make([]*comments.Thread, 0, len(threads))
		for _, th := range threads {
			if th.Resolved() && !showResolved {
				continue
			}
			ordered = append(ordered, th)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].Root.CreatedAt.Before(ordered[j].Root.CreatedAt)
		})

		if len(ordered) == 0 {
			output.Info("no comment threads")
			return nil
		}
		for _, th := range ordered {
			fmt.Println(output.FormatThread(th))
		}
		return nil
	},
}

func recordToComment(r apiclient.CommentRecord) (comments.Comment, error) {
	created, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return comments.Comment{}, fmt.Errorf("parse created_at: %w", err)
	}
	c := comments.Comment{
		ID:         r.CommentID,
		ParentID:   r.ParentID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Content:    r.Content,
		CreatedAt:  created,
	}
	if r.ResolvedAt != nil {
		resolved, err := time.Parse(time.RFC3339, *r.ResolvedAt)
		if err != nil {
			return comments.Comment{}, fmt.Errorf("parse resolved_at: %w", err)
		}
		c.ResolvedAt = &resolved
	}
	return c, nil
}

func init() {
	rootCmd.AddCommand(commentsCmd)
	commentsCmd.Flags().Bool("all", false, "Include resolved threads")
}
