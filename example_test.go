package depot_test

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/meigma/depot"
	"github.com/meigma/depot/internal/testutil"
)

func Example() {
	var buf testutil.SeekBuffer
	w, err := depot.NewWriter(&buf, depot.WriterWithClock(func() time.Time {
		return time.Unix(1700000000, 0)
	}))
	if err != nil {
		log.Fatal(err)
	}
	if _, err := w.Append("greeting.txt", strings.NewReader("hello, depot")); err != nil {
		log.Fatal(err)
	}
	if _, err := w.AppendBytes("notes/empty", nil); err != nil {
		log.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		log.Fatal(err)
	}

	a, err := depot.Open(testutil.NewMemSource(buf.Bytes()))
	if err != nil {
		log.Fatal(err)
	}
	content, err := a.ReadFile("greeting.txt")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(a.Names())
	fmt.Println(string(content))
	// Output:
	// [greeting.txt notes/empty]
	// hello, depot
}
