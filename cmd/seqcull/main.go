// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command seqcull curates tabular records of biological sequences.
//
// The table format is described in the seqio package: CSV or TSV with
// name, species, and sequence columns, plus optional uid, keep,
// always_keep, and alignment columns. Typical session:
//
//	seqcull shrink species seqs.csv -o curated.csv --threshold 0.97
//	seqcull run seqs.csv -o curated.csv --archive ~/.seqcull/archive
//	seqcull export fasta curated.csv -o curated.fasta
//	seqcull stats curated.csv
//	seqcull serve --port 12180
//	seqcull watch seqs.csv -o curated.csv
package main

import (
	"os"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments and
	// prints the error itself.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
