// Package oxia implements metadata.MetadataStore on Oxia.
//
// vacuumd keeps two kinds of keys in Oxia: durable per-scope checkpoints and
// ephemeral scope leases. Ephemeral keys are bound to the client session, so
// the leases of a crashed process disappear once its session times out.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "vacuum/prod",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package oxia
