// Package fraudlens scores card transactions for fraud by combining an
// Isolation Forest anomaly score with an XGBoost fraud probability.
//
// Quick start:
//
//	d, err := fraudlens.New(fraudlens.WithManifest("models/manifest.yaml"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	res, _ := d.Predict(ctx, txn)
//	fmt.Println(res.RiskLevel, res.FraudProbability) // LOW 0.0123
//
// The Detector is safe for concurrent use. Create once, reuse across
// requests.
package fraudlens
