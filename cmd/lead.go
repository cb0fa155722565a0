package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/normalize"
	"github.com/sells-group/leadsync/internal/store"
)

var (
	leadID    string
	leadEmail string
	leadPhone string
)

var leadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Look up a stored lead by id or contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		if leadID == "" && leadEmail == "" && leadPhone == "" {
			return eris.New("one of --id, --email or --phone is required")
		}
		if err := cfg.Validate("lead"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lead, err := lookupLead(ctx, st)
		if err != nil {
			return err
		}
		if lead == nil {
			return eris.New("lead not found")
		}
		return printJSON(cmd.OutOrStdout(), lead)
	},
}

// lookupLead reads by id, or matches the contact the same way the CRM
// webhook does, without polling.
func lookupLead(ctx context.Context, st store.LeadStore) (*model.Lead, error) {
	if leadID != "" {
		return st.GetLead(ctx, leadID)
	}
	c := normalize.Contact(model.Contact{Email: leadEmail, Phone: leadPhone}, normalize.PhoneRules{
		CountryCode:    cfg.Normalize.CountryCode,
		NationalLength: cfg.Normalize.NationalLength,
		SuffixLength:   cfg.Normalize.SuffixLength,
	})
	return st.SearchByContact(ctx, c.Email, c.Search, c.Suffix)
}

func init() {
	leadCmd.Flags().StringVar(&leadID, "id", "", "identity id")
	leadCmd.Flags().StringVar(&leadEmail, "email", "", "contact email")
	leadCmd.Flags().StringVar(&leadPhone, "phone", "", "contact phone")
	rootCmd.AddCommand(leadCmd)
}
