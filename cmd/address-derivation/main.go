package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
)

// prints the first addresses derived from the configured extended public
// keys, to check them against the wallet before going live
func main() {
	count := flag.Int64("n", 5, "number of addresses per chain")
	from := flag.Int64("from", 0, "first address index")
	only := flag.String("chain", "", "only derive for this chain")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		fmt.Println("Failed to load .env file")
	}
	cfg, err := chains.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading chain config: %v", err)
	}
	deriver, err := chains.NewAddressDeriver(map[string]string{
		common.ChainBTC:  cfg.BTCXpub,
		common.ChainLTC:  cfg.LTCXpub,
		common.ChainETH:  cfg.ETHXpub,
		common.ChainTRON: cfg.TRONXpub,
	})
	if err != nil {
		log.Fatalf("Error parsing extended public keys: %v", err)
	}

	for _, chain := range []string{common.ChainBTC, common.ChainLTC, common.ChainETH, common.ChainTRON} {
		if *only != "" && !strings.EqualFold(*only, chain) {
			continue
		}
		if !deriver.Supports(chain) {
			fmt.Printf("%s: no extended public key configured\n", chain)
			continue
		}
		for index := *from; index < *from+*count; index++ {
			address, err := deriver.Derive(chain, index)
			if err != nil {
				log.Fatalf("Error deriving %s address %d: %v", chain, index, err)
			}
			fmt.Printf("%s\t%d\t%s\n", chain, index, address)
		}
	}
}
