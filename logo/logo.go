package logo

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Display prints the banner of the Settlementis binaries.
func Display() {
	s, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("S", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("ettlementis", pterm.FgLightMagenta.ToStyle())).Srender()
	pterm.DefaultCenter.Println(s)
	pterm.DefaultCenter.WithCenterEachLineSeparately().
		Println("Multisig invoice settlement\nwith on-ledger audit fingerprints.")
}
