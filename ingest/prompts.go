package ingest

import (
	"fmt"
	"strings"
)

// buildChunkPrompt declares the chunk's ordinal and page range and pins the
// exact JSON shape the model must emit. Fields not visible in the chunk must
// carry the continuation sentinel so the merger can tell "absent" from
// "empty".
func buildChunkPrompt(chunk RawChunk, totalChunks int, knownBanks []string) string {
	var b strings.Builder

	b.WriteString("You are a bank statement parser. You are given chunk ")
	fmt.Fprintf(&b, "%d of %d of an OCR-extracted statement document, covering page(s) %s.\n\n", chunk.SequenceNumber, totalChunks, chunk.PageRange)

	b.WriteString("Output STRICT JSON only: no comments, no trailing commas, no markdown fences, no text before or after the JSON object.\n\n")

	b.WriteString("The JSON object must have exactly this shape:\n")
	b.WriteString(`{
  "accountStatements": [
    {
      "bankName": string,
      "accountNumber": string,
      "periodStart": string (YYYY-MM-DD),
      "periodEnd": string (YYYY-MM-DD),
      "accountType": string,
      "accountCurrency": string,
      "startingBalance": string,
      "endingBalance": string,
      "transactions": [
        {
          "date": string (YYYY-MM-DD),
          "creditAmount": string,
          "debitAmount": string,
          "description": string,
          "balance": string,
          "pageNumber": string,
          "entityName": string
        }
      ]
    }
  ]
}
`)

	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- For ANY field that is not visible in this chunk, use the exact string %q. Only later chunks of the document may show it.\n", continuationValue)
	fmt.Fprintf(&b, "- For an amount you cannot read, use %q. NEVER substitute 0; a zero balance is a real value.\n", UnknownAmount)
	b.WriteString("- Keep transactions in the exact order they appear on the page.\n")
	b.WriteString("- If the chunk shows several accounts, emit one accountStatements entry per account.\n")
	b.WriteString("- entityName is the counterparty (payee/payer) when it can be read from the description, otherwise " + fmt.Sprintf("%q", continuationValue) + ".\n")

	if len(knownBanks) > 0 {
		b.WriteString("- If the bank is one of the following, use the name EXACTLY as written here: ")
		b.WriteString(strings.Join(knownBanks, ", "))
		b.WriteString(". Otherwise use the name as printed on the statement.\n")
	}

	b.WriteString("\nStatement chunk:\n\n")
	b.WriteString(chunk.Content)

	return b.String()
}
