package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zapdesk/zapdesk/internal/classify"
	"github.com/zapdesk/zapdesk/internal/config"
)

func newClassifyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify a message text against the configured keyword tables",
		Long:  "Runs the keyword classifier offline and prints the winning category, confidence, and matched keywords. Useful when tuning keyword lists.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, configPath, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "zapdesk.yaml", "path to config file")
	return cmd
}

func runClassify(cmd *cobra.Command, configPath, text string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c := classify.New(cfg)
	res := c.Classify(text)

	fmt.Fprintf(out, "category:   %s\n", res.Category)
	fmt.Fprintf(out, "confidence: %d\n", res.Confidence)
	if len(res.Matched) > 0 {
		fmt.Fprintf(out, "matched:    %s\n", strings.Join(res.Matched, ", "))
	}
	if !res.Actionable(c.MinConfidence()) {
		fmt.Fprintf(out, "below the %d%% floor: the conversation would stay unrouted\n", c.MinConfidence())
	}
	return nil
}
