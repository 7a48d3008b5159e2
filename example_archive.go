package disclosegate

// Example: Shipping the Audit Chain to an External Archive
//
// The gate's audit chain is tamper evident, but an attacker with write
// access to the gate's own storage could truncate it. Shipping segments to
// an archive the gate cannot write to closes that gap: the archive only
// advances its verified tip when a segment replays cleanly from the tip it
// already trusts.
//
// Use case: a program operator or auditor runs the archive; the gate
// pushes every checkpoint interval.
//
// Folder Structure (FolderTransport):
//   /shared/disclosegate/
//     logs/
//       gate-prod.gob            - Log registration
//     checkpoints/
//       gate-prod/
//         00000000000000000100.gob
//     segments/
//       gate-prod/
//         00000000000000000001.gob
//
// Usage Example:
//
//   // ===== On the gate side =====
//
//   transport := disclosegate.NewHTTPTransport("https://archive.example.com")
//   transport.RegisterLog("gate-prod")
//
//   // After each checkpoint, ship the records since the previous one.
//   records, _ := trail.Records(prev.Index + 1)
//   ok, err := transport.SendSegment(disclosegate.NewSegment("gate-prod", prev, records))
//   if !ok {
//       log.Fatal("archive rejected segment:", err)
//   }
//
//   // ===== On the archive side =====
//
//   archive := disclosegate.NewArchive()
//   srv := disclosegate.NewServer(archive, tracker, nil)
//   mux := http.NewServeMux()
//   srv.SetupRoutes(mux)
//   srv.ListenAndServeTLS(":8443", "cert.pem", "key.pem", mux)
//
// Security Note: with FolderTransport the gate and archive share a
// filesystem, so the archive's tip is only as trustworthy as that host.
// Production archives should run behind HTTPTransport on a separate
// machine.
//
// Wire Formats:
//
//   - gob (default): zero-config, Go to Go.
//   - protobuf (UseProto: true): cross-language verifiers decode segments
//     with the structpb well-known types.
//
