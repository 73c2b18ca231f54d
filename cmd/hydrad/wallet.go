package hydrad

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hydra-network/hydra/internal/wallet"
)

var WalletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the node wallet",
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a wallet keystore (or print the address of an existing one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet()
		if err != nil {
			return err
		}
		fmt.Println(w.Address())
		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wallet address",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWallet()
		if err != nil {
			return err
		}
		fmt.Println(w.Address())
		return nil
	},
}

var walletChangePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Re-encrypt the keystore under a new password",
	Long: `Reads the current password from HYDRA_WALLET_PASSWORD and the new one
from HYDRA_WALLET_NEW_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPassword := os.Getenv("HYDRA_WALLET_PASSWORD")
		newPassword := os.Getenv("HYDRA_WALLET_NEW_PASSWORD")
		if oldPassword == "" || newPassword == "" {
			return fmt.Errorf("HYDRA_WALLET_PASSWORD and HYDRA_WALLET_NEW_PASSWORD must be set")
		}

		w, err := wallet.Open(viper.GetString("wallet"), oldPassword)
		if err != nil {
			return err
		}
		if err := w.ChangePassword(oldPassword, newPassword); err != nil {
			return err
		}
		fmt.Println("password changed")
		return nil
	},
}

func init() {
	WalletCmd.AddCommand(walletNewCmd)
	WalletCmd.AddCommand(walletAddressCmd)
	WalletCmd.AddCommand(walletChangePasswordCmd)
}
