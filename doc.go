// Package numstock manages a stock of phone numbers in PostgreSQL: bulk
// ingestion into a day-partitioned pool, an append-only sales ledger, and
// order allocation that never hands the same number to two customers.
//
// Ingested numbers stay allocatable for a freshness window (3 days by
// default) and sold numbers are withheld for a reuse window (30 days by
// default). Orders run as serializable transactions that select candidates
// and append their ledger rows in one statement, so concurrent orders are
// either serialized cleanly or one of them retries on a fresh snapshot.
// Multiple processes can ingest and allocate against the same database.
//
// Setup:
//
// Before using numstock, create the schema and the partitions covering the
// days you will ingest into:
//
//	db, err := pgxpool.New(ctx, databaseURL)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := numstock.Setup(ctx, db); err != nil {
//		log.Fatal(err)
//	}
//
//	pool, err := numstock.NewPool(numstock.PoolConfig{DB: db})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := pool.EnsurePartitions(ctx, time.Now(), 4); err != nil {
//		log.Fatal(err)
//	}
//
// Basic usage:
//
//	// Ingest a batch
//	result, err := pool.AppendRecords(ctx, records, numstock.WithBatch("feed-2026-08-22.csv"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("ingested %d rows\n", result.Rows)
//
//	// Fill an order
//	allocator, err := numstock.NewAllocator(numstock.AllocatorConfig{DB: db})
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := allocator.ProcessOrder(ctx, numstock.Order{
//		Customer: "acme",
//		Requirements: []numstock.Requirement{
//			{Provider: "tsel", Quantity: 100},
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, req := range res.Requirements {
//		fmt.Printf("%s: %d of %d\n", req.Provider, req.Found, req.Requested)
//	}
package numstock
