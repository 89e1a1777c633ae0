package main

import (
	"fmt"

	"github.com/gordian-engine/gsequencer/gcrypto/gkeyfile"
	"github.com/spf13/cobra"
)

var cmdKeygen = &cobra.Command{
	Use:   "keygen PATH",
	Short: "Generate an ed25519 identity key file",
	Long: "Generate an ed25519 identity key file.\n\n" +
		"If $" + passphraseEnv + " is set, the key is sealed with it.",
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	seed, err := gkeyfile.Generate()
	if err != nil {
		return err
	}
	defer clear(seed)

	if err := gkeyfile.Save(args[0], seed, keyPassphrase(), gkeyfile.DefaultKDFParams); err != nil {
		return err
	}

	s, err := gkeyfile.Load(args[0], keyPassphrase())
	if err != nil {
		return err
	}
	defer s.Zero()

	fmt.Fprintf(cmd.OutOrStdout(), "%x\n", s.PubKey().PubKeyBytes())
	return nil
}
