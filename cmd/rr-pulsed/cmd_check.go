package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules/bloom"
	"github.com/haukened/rr-pulse/internal/pulse/services/classifier"
)

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Classify one URL against the configured rules",
	Example: `  rr-pulsed check https://ad.doubleclick.net/pixel --referrer https://news.example/
  rr-pulsed check https://www.youtube.com/youtubei/v1/player --type xhr --json`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var (
	checkReferrer     string
	checkType         string
	checkUseWhitelist bool
	checkJSON         bool
)

func init() {
	checkCmd.Flags().StringVarP(&checkReferrer, "referrer", "r", "", "Referrer URL of the initiating page")
	checkCmd.Flags().StringVarP(&checkType, "type", "t", "other", "Resource type (mainFrame, script, image, xhr, ...)")
	checkCmd.Flags().BoolVar(&checkUseWhitelist, "whitelist", false, "Apply the persisted whitelist")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the decision as JSON")
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	URL         string `json:"url"`
	Referrer    string `json:"referrer,omitempty"`
	Type        string `json:"type"`
	Decision    string `json:"decision"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matchedRule,omitempty"`
	RedirectURL string `json:"redirectURL,omitempty"`
	RewriterID  string `json:"rewriterId,omitempty"`
	Tracker     bool   `json:"tracker"`
	ThirdParty  bool   `json:"thirdParty"`
	Generation  uint64 `json:"generation"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := domain.ParseResourceType(checkType)
	if err != nil {
		return err
	}

	logger := log.NewNoopLogger()
	rs, err := loadRules(newRulesLoader(cfg, logger), logger)
	if err != nil {
		return err
	}

	var wl []string
	if checkUseWhitelist {
		if wl, err = readWhitelist(cfg.Whitelist.DB); err != nil {
			return err
		}
	}

	store := rules.NewStore(rs, wl, rules.StoreOptions{
		Bloom:       bloom.NewFactory(),
		BloomFPRate: cfg.Classifier.BloomFPRate,
		Logger:      logger,
	})
	c := classifier.New(classifier.Options{
		MissingReferrer: classifier.ReferrerPolicy(cfg.Classifier.MissingReferrer),
		FirstPartyMode:  classifier.FirstPartyMode(cfg.Classifier.FirstPartyMode),
		Logger:          logger,
	})

	req := domain.RequestContext{URL: args[0], ReferrerURL: checkReferrer, ResourceType: rt}
	snap := store.CurrentSnapshot()
	d := c.Classify(req, snap)

	res := checkResult{
		URL:         req.URL,
		Referrer:    req.ReferrerURL,
		Type:        rt.String(),
		Decision:    d.Kind.String(),
		Reason:      d.Reason.String(),
		MatchedRule: d.MatchedRule,
		RedirectURL: d.TargetURL,
		RewriterID:  d.RewriterID,
		Tracker:     d.Tracker,
		ThirdParty:  c.IsThirdParty(req),
		Generation:  snap.Generation(),
	}
	if checkJSON {
		out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	}
	return printCheck(cmd.OutOrStdout(), res)
}

func printCheck(w io.Writer, res checkResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "URL\t%s\n", res.URL)
	if res.Referrer != "" {
		fmt.Fprintf(tw, "REFERRER\t%s\n", res.Referrer)
	}
	fmt.Fprintf(tw, "TYPE\t%s\n", res.Type)
	fmt.Fprintf(tw, "DECISION\t%s\n", res.Decision)
	fmt.Fprintf(tw, "REASON\t%s\n", res.Reason)
	if res.MatchedRule != "" {
		fmt.Fprintf(tw, "MATCHED\t%s\n", res.MatchedRule)
	}
	if res.RedirectURL != "" {
		fmt.Fprintf(tw, "REDIRECT\t%s\n", res.RedirectURL)
	}
	fmt.Fprintf(tw, "TRACKER\t%t\n", res.Tracker)
	fmt.Fprintf(tw, "THIRD PARTY\t%t\n", res.ThirdParty)
	return tw.Flush()
}
