// Package archive stores finished webhook deliveries in S3 before retention
// cleanup removes them from the database.
//
// Each cleanup batch becomes one newline-delimited JSON object, gzipped by
// default, under a date-partitioned key:
//
//	a, err := archive.NewS3Archiver(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	cleaner := webhook.NewCleaner(store, webhook.WithArchiver(a))
//
// S3-compatible services such as MinIO work through Endpoint and ForcePathStyle.
package archive
