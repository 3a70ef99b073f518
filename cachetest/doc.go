// Package cachetest provides a reusable contract suite for cachecore.Backend
// implementations.
//
// Custom backends can run it from their own tests:
//
//	func TestMyBackendContract(t *testing.T) {
//		backend, err := mybackend.New(mybackend.Config{Prefix: "test"})
//		if err != nil {
//			t.Fatalf("new backend: %v", err)
//		}
//
//		// Namespace ids per test and tune TTL waits for backend semantics as needed.
//		cachetest.RunBackendContract(t, backend, cachetest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//			TTLWait:  1500 * time.Millisecond,
//		})
//	}
package cachetest
