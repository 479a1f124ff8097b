package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/email-sleuth/internal/model"
)

var (
	findName   string
	findFirst  string
	findLast   string
	findDomain string
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find the email address of a single contact",
	Example: `  email-sleuth find --name "John Doe" --domain example.com
  email-sleuth find --first John --last Doe --domain https://www.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, err := findContact()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "find")
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Orchestrator.Process(ctx, contact)
		zap.L().Info("contact processed",
			zap.String("domain", res.Domain),
			zap.String("email", res.Email),
			zap.Int("confidence", res.Score),
		)
		return writeResult(os.Stdout, res)
	},
}

func init() {
	findCmd.Flags().StringVar(&findName, "name", "", "full name of the contact")
	findCmd.Flags().StringVar(&findFirst, "first", "", "first name (overrides --name)")
	findCmd.Flags().StringVar(&findLast, "last", "", "last name (overrides --name)")
	findCmd.Flags().StringVar(&findDomain, "domain", "", "company domain or website URL")
	rootCmd.AddCommand(findCmd)
}

// findContact builds the contact from flags. A name and a domain are
// required; finer validation happens in the pipeline.
func findContact() (model.Contact, error) {
	c := model.Contact{
		FirstName: findFirst,
		LastName:  findLast,
		FullName:  findName,
		Domain:    findDomain,
	}
	if c.Domain == "" {
		return c, eris.New("find: --domain is required")
	}
	if c.FullName == "" && (c.FirstName == "" || c.LastName == "") {
		return c, eris.New("find: --name or both --first and --last are required")
	}
	return c, nil
}

func writeResult(w io.Writer, res *model.ContactResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "find: encode result")
}
