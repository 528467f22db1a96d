package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/deploypipe/cmd/deploypipe/config"
	"github.com/loykin/deploypipe/internal/approval"
	"github.com/loykin/deploypipe/internal/constants"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/util"
	"github.com/spf13/cobra"
)

var (
	approvalsSubject string
	approvalsTTL     time.Duration
	approvalsServer  string
	approvalsToken   string
	approvalsComment string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Mint approver tokens and decide pending approvals on a running pipeline",
}

var approvalsTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for an approver",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDoc()
		if err != nil {
			return err
		}
		ttl := approvalsTTL
		if ttl == 0 {
			if ttl, err = doc.ApprovalTokenTTL(); err != nil {
				return err
			}
		}
		tok, err := approval.MintToken(approval.TokenConfig{
			Secret:  doc.ApprovalSecret(),
			Issuer:  util.TrimWithDefault(doc.Approval.Issuer, constants.DefaultApprovalIssuer),
			Subject: approvalsSubject,
			TTL:     ttl,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approvals pending on the approval server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, base, err := approvalsClient()
		if err != nil {
			return err
		}
		var body struct {
			Pending []approval.Request `json:"pending"`
		}
		resp, err := client.R().SetContext(cmd.Context()).SetResult(&body).Get(base + "/approvals")
		if err := checkResponse(resp, err); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(body.Pending) == 0 {
			_, err := fmt.Fprintln(out, "no pending approvals")
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tENVIRONMENT\tTOPOLOGY\tRUN\tSTAGE\tOPENED")
		for _, p := range body.Pending {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Environment, p.TopologyID, p.RunID, p.Stage, p.OpenedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

func decideCmd(use string, approve bool) *cobra.Command {
	verb := "reject"
	if approve {
		verb = "approve"
	}
	return &cobra.Command{
		Use:   use + " <request-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, base, err := approvalsClient()
			if err != nil {
				return err
			}
			resp, err := client.R().SetContext(cmd.Context()).
				SetBody(map[string]string{"comment": approvalsComment}).
				Post(fmt.Sprintf("%s/approvals/%s/%s", base, args[0], verb))
			if err := checkResponse(resp, err); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, args[0])
			return err
		},
	}
}

// approvalsClient returns a client authenticated with --token, minting one
// from the configured secret when the flag is empty.
func approvalsClient() (*resty.Client, string, error) {
	doc, err := loadDoc()
	if err != nil {
		return nil, "", err
	}
	token := approvalsToken
	if token == "" {
		if token, err = mintFromDoc(doc); err != nil {
			return nil, "", err
		}
	}
	httpOpts, err := doc.HTTPOptions()
	if err != nil {
		return nil, "", err
	}
	server := util.TrimWithDefault(approvalsServer, "http://"+util.TrimWithDefault(doc.Approval.Addr, constants.DefaultApprovalAddr))
	return httpc.New(httpOpts).SetAuthToken(token), strings.TrimRight(server, "/"), nil
}

func mintFromDoc(doc *config.ConfigDoc) (string, error) {
	subject := strings.TrimSpace(approvalsSubject)
	if subject == "" {
		return "", errors.New("--token or --subject is required")
	}
	return approval.MintToken(approval.TokenConfig{
		Secret:  doc.ApprovalSecret(),
		Issuer:  util.TrimWithDefault(doc.Approval.Issuer, constants.DefaultApprovalIssuer),
		Subject: subject,
		TTL:     5 * time.Minute,
	})
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("approval server: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func init() {
	approvalsCmd.PersistentFlags().StringVar(&approvalsSubject, "subject", "", "approver identity recorded on decisions")
	approvalsCmd.PersistentFlags().StringVar(&approvalsServer, "server", "", "approval server base URL (default http://<approval.addr>)")
	approvalsCmd.PersistentFlags().StringVar(&approvalsToken, "token", "", "bearer token (minted from approval.secret when empty)")
	approvalsTokenCmd.Flags().DurationVar(&approvalsTTL, "ttl", 0, "token lifetime (default approval.token_ttl or 12h)")

	approveCmd := decideCmd("approve", true)
	rejectCmd := decideCmd("reject", false)
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&approvalsComment, "comment", "", "comment stored with the decision")
	}

	approvalsCmd.AddCommand(approvalsTokenCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approveCmd)
	approvalsCmd.AddCommand(rejectCmd)
}
