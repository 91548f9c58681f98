package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"zkpauth/internal/identity"
	"zkpauth/internal/issuer"
	"zkpauth/internal/wallet"
)

func deriveCmd() *cobra.Command {
	var address, email, password string
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the DID for a wallet address or credentials",
		RunE: func(_ *cobra.Command, _ []string) error {
			var (
				id  identity.Identity
				err error
			)
			switch {
			case address != "":
				id, err = core.Deriver.Derive(identity.MethodWallet, identity.WalletPayload{Address: address})
			case email != "":
				id, err = core.Deriver.Derive(identity.MethodCredential, identity.CredentialPayload{Email: email, Password: password})
			default:
				return errors.New("one of --address or --email is required")
			}
			if err != nil {
				return err
			}
			printIdentity(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.MarkFlagsMutuallyExclusive("address", "email")
	return cmd
}

func issuerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issuer",
		Short: "Query the configured issuer node",
	}
	cmd.AddCommand(
		issuerQuery("status", "Check the issuer node is reachable", (*issuer.Facade).Status),
		issuerQuery("info", "List the issuer node identities", (*issuer.Facade).IssuerInfo),
	)
	return cmd
}

func issuerQuery(use, short string, call func(*issuer.Facade, context.Context) issuer.Result) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if core.Facade == nil {
				return errors.New("issuer node is not enabled; set issuer.enabled or ZKP_ISSUER_ENABLED")
			}
			res := call(core.Facade, cmd.Context())
			if !res.Success {
				return fmt.Errorf("%s: %s", res.Message, res.Error)
			}
			out, err := json.MarshalIndent(res.Data, "", "  ")
			if err != nil {
				return err
			}
			_, _ = green.Println(res.Message)
			fmt.Println(string(out))
			return nil
		},
	}
}

func networksCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "networks",
		Short:       "List the known networks",
		Annotations: map[string]string{"offline": "true"},
		Run: func(*cobra.Command, []string) {
			for _, n := range wallet.Networks() {
				_, _ = cyan.Printf("%-8d", n.ChainID)
				fmt.Printf("%-22s %-6s %s\n", n.Name, n.Currency.Symbol, n.ExplorerURL)
			}
		},
	}
}
