package throttle_test

import (
	"context"
	"fmt"

	"github.com/DavidAlphaFox/async-kernel/throttle"
)

func Example() {
	ctx := context.Background()
	th, err := throttle.New[int](ctx, 2)
	if err != nil {
		panic(err)
	}

	double := func(n int) throttle.Thunk[int] {
		return func(_ context.Context) (int, error) {
			return n * 2, nil
		}
	}

	f1, _ := th.Enqueue(double(1))
	f2, _ := th.Enqueue(double(2))
	f3, _ := th.Enqueue(double(3))

	v1, _ := f1.Result()
	v2, _ := f2.Result()
	v3, _ := f3.Result()
	fmt.Println(v1, v2, v3)
	// Output:
	// 2 4 6
}

func ExampleThrottle_EnqueueOutcome() {
	ctx := context.Background()
	th, _ := throttle.New[string](ctx, 1, throttle.WithContinueOnError(true))

	f, _ := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		return "", fmt.Errorf("upstream unavailable")
	})

	out, _ := f.Result()
	fmt.Println(out.State())
	fmt.Println(out.Err())
	// Output:
	// failed
	// upstream unavailable
}
