package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zkpauth/internal/auth"
	"zkpauth/internal/identity"
	"zkpauth/internal/wallet"
)

func registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an email and password identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := core.Auth.Register(cmd.Context(), auth.Registration{Name: name, Email: email, Password: password})
			if err != nil {
				return err
			}
			_, _ = green.Printf("Registered %s\n", res.User.Email)
			printIdentity(res.Identity)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (at least 6 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate a registered user with a credential proof",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println("Generating proof...")
			res, err := core.Auth.CredentialFlow(cmd.Context(),
				auth.Credentials{Email: email, Password: password},
				auth.WithProgress(progress),
			)
			if err != nil {
				return err
			}
			if err := setCurrentDID(cmd.Context(), res.Session.SubjectDID); err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func walletLoginCmd() *cobra.Command {
	var (
		address string
		chainID int64
		rpcURL  string
	)
	cmd := &cobra.Command{
		Use:   "wallet-login",
		Short: "Authenticate with a wallet address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			info := auth.WalletInfo{Connected: address != "", Address: address, ChainID: chainID}
			if rpcURL != "" {
				snap, err := readWallet(cmd, rpcURL, address)
				if err != nil {
					return err
				}
				info.ChainID = snap.ChainID
			}
			if info.ChainID == 0 {
				info.ChainID = core.Config.Auth.RequiredChainID
			}

			fmt.Printf("Connecting %s...\n", identity.FormatAddress(address, 4))
			res, err := core.Auth.WalletFlow(ctx, info, auth.WithProgress(progress))
			if err != nil {
				return err
			}
			if err := setCurrentDID(ctx, res.Session.SubjectDID); err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address (0x...)")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "chain the wallet is on (default: the required chain)")
	cmd.Flags().StringVar(&rpcURL, "rpc", "", "read the chain id and balance from this RPC endpoint")
	return cmd
}

// readWallet asks the RPC endpoint for the wallet's chain and balance once.
func readWallet(cmd *cobra.Command, rpcURL, address string) (wallet.Snapshot, error) {
	client, err := wallet.Dial(cmd.Context(), rpcURL)
	if err != nil {
		return wallet.Snapshot{}, err
	}
	defer client.Close()
	monitor, err := wallet.NewMonitor(client, address)
	if err != nil {
		return wallet.Snapshot{}, err
	}
	snap, err := monitor.Refresh(cmd.Context())
	if err != nil {
		return snap, err
	}
	_, _ = cyan.Print("  Network: ")
	fmt.Printf("%s (%d)\n", snap.Network.Name, snap.ChainID)
	_, _ = cyan.Print("  Balance: ")
	fmt.Println(snap.Balance)
	return snap, nil
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			did, err := currentDID(ctx)
			if err != nil {
				return err
			}
			if did == "" {
				_, _ = yellow.Println("No active session")
				return nil
			}
			if err := core.Auth.Logout(ctx, did); err != nil {
				return err
			}
			if err := setCurrentDID(ctx, ""); err != nil {
				return err
			}
			_, _ = green.Println("Logged out")
			return nil
		},
	}
}

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			did, err := currentDID(ctx)
			if err != nil {
				return err
			}
			if did == "" {
				_, _ = yellow.Println("No active session")
				return nil
			}
			sess, err := core.Auth.Restore(ctx, did)
			if err != nil {
				_ = setCurrentDID(ctx, "")
				return err
			}
			printSession(sess, time.Now())
			return nil
		},
	}
}
