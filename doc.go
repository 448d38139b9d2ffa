package kepler

/*
Kepler is an in-memory transactional row store with a durable commit log.
All live data is held in memory; durability comes from replaying the log of
committed transaction diffs, through which the store reconstructs both its
rows and its own schema catalog.

The module is organized into the following packages:

* `store/types`: row pointers, object identifiers and column lists.
* `store/codec`: order-preserving byte encodings for keys and row storage.
* `store/value`: column values, rows and the row encodings (storage, key and
  wire), including blob externalization for large payloads.
* `store/table`: one table's physical rows, its secondary indexes, the page
  allocator and the reference-counted blob store.
* `store/datastore`: the transactional core. A committed snapshot plus a
  per-transaction overlay, merged atomically at commit; the self-describing
  system catalog; sequence allocation windows; commit log replay.
* `store/commitlog`: the durable commit log over Badger, appending committed
  diffs and folding them back for replay.
* `config`: configuration defaults, validation and TOML loading.
* `metrics`: Prometheus collectors.
* `cmd/kepler-inspect`: offline replay and inspection of a commit log.
*/
