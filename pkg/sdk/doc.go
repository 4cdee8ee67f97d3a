// Package occsearch provides a Go client for the occurrence search
// and export HTTP API.
//
// # Searching
//
//	client, _ := occsearch.New("https://biocache.example.org",
//	    occsearch.WithTimeout(10*time.Second),
//	)
//	res, _ := client.Search(ctx, occsearch.Query{
//	    Q:      "taxa:Acacia",
//	    Facets: []string{"month", "state"},
//	})
//	for _, f := range res.Facets {
//	    fmt.Println(f.Field, len(f.Values))
//	}
//
// # Query contexts
//
// Large or frequently reused queries can be stored server-side and
// referenced by key:
//
//	key, _ := client.CreateQid(ctx, occsearch.QidRequest{Q: "genus:Acacia", WKT: wkt})
//	res, _ := client.Search(ctx, occsearch.Query{Q: "qid:" + key})
//
// # Bulk exports
//
//	ticket, _ := client.SubmitDownload(ctx, occsearch.DownloadRequest{
//	    Query:  occsearch.Query{Q: "data_resource_uid:dr376"},
//	    Email:  "researcher@example.org",
//	    Format: "csv",
//	})
//	statuses, _ := client.DownloadStatuses(ctx)
//
// Errors returned by the server are mapped to the package sentinels;
// use errors.Is() to check.
package occsearch
