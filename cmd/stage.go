package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsync/internal/model"
)

var (
	stageTag   string
	stageEmail string
	stagePhone string
	stageName  string
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Run one CRM stage event through the engine",
	Long:  "Resolves the contact, applies the stage gate and dispatches the conversion event, exactly as the webhook would. Useful for re-triggering a stage by hand.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "stage")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.HandleStageEvent(ctx, model.CrmStageEvent{
			TagName: stageTag,
			Contact: model.Contact{Email: stageEmail, Phone: stagePhone, Name: stageName},
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	stageCmd.Flags().StringVar(&stageTag, "tag", "", "CRM stage tag (required)")
	stageCmd.Flags().StringVar(&stageEmail, "email", "", "contact email")
	stageCmd.Flags().StringVar(&stagePhone, "phone", "", "contact phone")
	stageCmd.Flags().StringVar(&stageName, "name", "", "contact full name, used for name rescue")
	_ = stageCmd.MarkFlagRequired("tag")
	rootCmd.AddCommand(stageCmd)
}
