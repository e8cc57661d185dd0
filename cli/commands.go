package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"custodyledger_go/address"
	"custodyledger_go/custody"
	"custodyledger_go/gateway"
	"custodyledger_go/group"
	"custodyledger_go/signing"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
)

type pubkeyOutput struct {
	Identity  string `json:"identity"`
	Address   string `json:"address"`
	PublicKey []byte `json:"public_key"`
}

func (a *app) pubkeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey <provider:handle>",
		Short: "Show the address custody holds for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := custody.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			c, err := a.custodian()
			if err != nil {
				return err
			}
			rec, err := c.ResolvePublicKey(cmd.Context(), id)
			if err != nil {
				return err
			}
			addr, err := rec.Address()
			if err != nil {
				return err
			}
			return printJSON(cmd, pubkeyOutput{Identity: id.Key(), Address: addr.String(), PublicKey: rec.PublicKey})
		},
	}
}

func (a *app) sendCommand() *cobra.Command {
	var (
		from    string
		sender  string
		to      string
		amount  int64
		note    string
		rekeyTo string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign a payment through custody and submit it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := custody.ParseIdentity(from)
			if err != nil {
				return err
			}
			c, err := a.custodian()
			if err != nil {
				return err
			}
			session := custody.NewSession(c, 0)
			if sender == "" {
				rec, err := session.ResolvePublicKey(ctx, id)
				if err != nil {
					return err
				}
				addr, err := rec.Address()
				if err != nil {
					return err
				}
				sender = addr.String()
			}

			gw, err := a.gateway()
			if err != nil {
				return err
			}
			sp, err := gw.SuggestedParams(ctx)
			if err != nil {
				return err
			}
			req := &transaction.PaymentRequest{
				Common:   transaction.Common{Sender: sender, RekeyTo: rekeyTo},
				Receiver: to,
				Amount:   amount,
			}
			if note != "" {
				req.Note = []byte(note)
			}
			tx, err := transaction.Build(sp, req)
			if err != nil {
				return err
			}
			res, err := signing.Sign(ctx, session, id, tx)
			if err != nil {
				return err
			}
			conf, err := gw.Submit(ctx, res)
			return report(cmd, conf, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Signing identity, provider:handle")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender address when it differs from the identity's own (rekeyed accounts)")
	cmd.Flags().StringVar(&to, "to", "", "Receiver address")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Amount in base units")
	cmd.Flags().StringVar(&note, "note", "", "Note")
	cmd.Flags().StringVar(&rekeyTo, "rekey-to", "", "Rekey the sender to this address")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

// groupEntry is one member in a group file.
type groupEntry struct {
	Signer string `json:"signer"`
	transaction.Envelope
}

func readGroupFile(path string) ([]groupEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []groupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse group file %s: %w", path, err)
	}
	return entries, nil
}

func (a *app) groupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group <file.json>",
		Short: "Build, sign and submit an atomic group described in a JSON file",
		Long: `The file holds an array of members in group order:

  [{"signer": "google:alice@example.com", "type": "pay",
    "params": {"sender": "...", "receiver": "...", "amount": 1000}}]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entries, err := readGroupFile(args[0])
			if err != nil {
				return err
			}
			c, err := a.custodian()
			if err != nil {
				return err
			}
			gw, err := a.gateway()
			if err != nil {
				return err
			}
			sp, err := gw.SuggestedParams(ctx)
			if err != nil {
				return err
			}

			members := make([]group.Member, len(entries))
			for i, e := range entries {
				id, err := custody.ParseIdentity(e.Signer)
				if err != nil {
					return fmt.Errorf("member %d: %w", i, err)
				}
				req, err := transaction.DecodeEnvelope(e.Envelope)
				if err != nil {
					return fmt.Errorf("member %d: %w", i, err)
				}
				tx, err := transaction.Build(sp, req)
				if err != nil {
					return fmt.Errorf("member %d: %w", i, err)
				}
				members[i] = group.Member{Txn: tx, Signer: id}
			}

			grp, err := group.NewCoordinator(c, a.cfg.Group.Concurrency).Build(ctx, members)
			if err != nil {
				return err
			}
			conf, err := gw.SubmitGroup(ctx, grp)
			return report(cmd, conf, err)
		},
	}
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <txid>",
		Short: "Wait for a submitted transaction to confirm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := address.DecodeDigest(args[0]); err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			gw, err := a.gateway()
			if err != nil {
				return err
			}
			conf, err := gw.WaitForConfirmation(cmd.Context(), args[0])
			return report(cmd, conf, err)
		},
	}
}

// report prints whatever confirmation exists, which after a timeout or an
// unknown send outcome carries the id to poll later, then returns err.
func report(cmd *cobra.Command, conf *gateway.Confirmation, err error) error {
	if conf != nil {
		if perr := printJSON(cmd, conf); perr != nil {
			return perr
		}
	}
	if err != nil && conf != nil && txerr.Submitted(err) {
		return fmt.Errorf("%w (check again with: custodyledger status %s)", err, conf.TransactionID)
	}
	return err
}
