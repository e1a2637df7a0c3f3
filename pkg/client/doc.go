// Package client is the WipeLedger Go SDK.
//
// It covers what a wiping station or an auditor needs: uploading erasure
// certificates, checking the chain, and resolving verification codes.
//
// # Uploading from a wiping station
//
// When the ledger requires ingest tokens, pass the one minted by
// 'wipecert token':
//
//	c, err := client.New("https://ledger.example.com",
//	    client.WithBearerToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Upload(ctx, client.Submission{
//	    CertificateID:   "CERT-001",
//	    DeviceInfo:      json.RawMessage(`{"model":"Seagate Barracuda 2TB"}`),
//	    WipeMethod:      "NIST Purge (Overwrite)",
//	    Timestamp:       "2025-09-20T10:15:30",
//	    CertificateHash: hash,
//	    Signature:       sig,
//	})
//	if errors.Is(err, client.ErrConflict) {
//	    // already in the ledger
//	}
//
// CertificateHash must match the ledger's recomputation of the content
// hash; 'wipecert hash' prints it for a certificate file.
//
// # Auditing the chain
//
// Reads are public:
//
//	report, err := c.VerifyChain(ctx)
//	if !report.Valid {
//	    for _, b := range report.Breaks {
//	        fmt.Println(b.Position, b.Reasons)
//	    }
//	}
//
// # Verifying a certificate holder's code
//
//	cert, ok, err := c.VerifyCode(ctx, code)
//	if err == nil && !ok {
//	    // unknown code
//	}
package client
