// Command hatracload drives a concurrent PUT/GET workload against a
// running Hatrac service and reports throughput, used to characterize a
// deployment's behavior under the kind of concurrent-writer load C4's
// atomic visibility flip and C7's fingerprinting are meant to tolerate.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/urfave/cli"
	"github.com/valyala/fasthttp"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/sync/errgroup"
)

const progressBarWidth = 64

func main() {
	app := cli.NewApp()
	app.Name = "hatracload"
	app.Usage = "load-test a Hatrac deployment with concurrent object PUTs and GETs"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "url", Usage: "base URL of the Hatrac service, e.g. https://hatrac.example.org", Required: true},
		cli.StringFlag{Name: "namespace", Value: "/hatracload", Usage: "namespace the workload writes objects under"},
		cli.IntFlag{Name: "objects", Value: 100, Usage: "number of distinct objects to put and then get"},
		cli.Int64Flag{Name: "object-size", Value: 1 << 16, Usage: "size in bytes of each object's content"},
		cli.IntFlag{Name: "concurrency", Value: 8, Usage: "number of concurrent in-flight requests"},
		cli.StringFlag{Name: "client-id", Usage: "Remote-User header value to present, for deployments gating create/read behind ACLs"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type result struct {
	nbytes int64
	dur    time.Duration
}

func run(c *cli.Context) error {
	baseURL := c.String("url")
	namespace := c.String("namespace")
	nobjects := c.Int("objects")
	objectSize := c.Int64("object-size")
	concurrency := c.Int("concurrency")
	clientID := c.String("client-id")

	client := &fasthttp.Client{
		MaxConnsPerHost: concurrency * 2,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    60 * time.Second,
	}

	body := make([]byte, objectSize)
	if _, err := rand.Read(body); err != nil {
		return err
	}

	if err := ensureNamespace(client, baseURL, namespace, clientID); err != nil {
		return err
	}

	progress := mpb.New(mpb.WithWidth(progressBarWidth))
	putBar := addBar(progress, "PUT", int64(nobjects))
	getBar := addBar(progress, "GET", int64(nobjects))

	paths := make([]string, nobjects)
	for i := range paths {
		paths[i] = fmt.Sprintf("%s/obj-%d", namespace, i)
	}

	var putBytes, getBytes int64
	putStart := time.Now()
	if err := runConcurrent(concurrency, paths, func(path string) error {
		if err := putObject(client, baseURL, path, clientID, body); err != nil {
			return err
		}
		atomic.AddInt64(&putBytes, objectSize)
		putBar.Increment()
		return nil
	}); err != nil {
		putBar.Abort(true)
		return err
	}
	putDur := time.Since(putStart)

	getStart := time.Now()
	if err := runConcurrent(concurrency, paths, func(path string) error {
		n, err := getObject(client, baseURL, path, clientID)
		if err != nil {
			return err
		}
		atomic.AddInt64(&getBytes, n)
		getBar.Increment()
		return nil
	}); err != nil {
		getBar.Abort(true)
		return err
	}
	getDur := time.Since(getStart)

	progress.Wait()

	fmt.Printf("PUT: %d objects, %s, %.2f MB/s\n", nobjects, putDur, throughputMBs(putBytes, putDur))
	fmt.Printf("GET: %d objects, %s, %.2f MB/s\n", nobjects, getDur, throughputMBs(getBytes, getDur))
	return nil
}

func addBar(p *mpb.Progress, label string, total int64) *mpb.Bar {
	return p.AddBar(total,
		mpb.PrependDecorators(decor.Name(label+": ", decor.WC{W: len(label) + 4}), decor.CountersNoUnit("%d/%d", decor.WCSyncWidth)),
		mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
	)
}

func runConcurrent(concurrency int, items []string, fn func(string) error) error {
	group, _ := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, concurrency)
	for _, item := range items {
		item := item
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			return fn(item)
		})
	}
	return group.Wait()
}

// ensureNamespace PUTs the target namespace with parents=true so a fresh
// deployment can run the workload without a separate setup step.
func ensureNamespace(client *fasthttp.Client, baseURL, namespace, clientID string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + namespace + "?parents=true")
	req.Header.SetMethod("PUT")
	req.Header.SetContentType("application/x-hatrac-namespace")
	if clientID != "" {
		req.Header.Set("Remote-User", clientID)
	}

	if err := client.Do(req, resp); err != nil {
		return err
	}
	switch resp.StatusCode() {
	case fasthttp.StatusCreated, fasthttp.StatusConflict:
		return nil
	default:
		return fmt.Errorf("PUT %s: unexpected status %d", namespace, resp.StatusCode())
	}
}

func putObject(client *fasthttp.Client, baseURL, path, clientID string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + path)
	req.Header.SetMethod("PUT")
	req.Header.SetContentType("application/octet-stream")
	if clientID != "" {
		req.Header.Set("Remote-User", clientID)
	}
	req.SetBody(body)

	if err := client.Do(req, resp); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusCreated {
		return fmt.Errorf("PUT %s: unexpected status %d", path, resp.StatusCode())
	}
	return nil
}

func getObject(client *fasthttp.Client, baseURL, path, clientID string) (int64, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + path)
	req.Header.SetMethod("GET")
	if clientID != "" {
		req.Header.Set("Remote-User", clientID)
	}

	if err := client.Do(req, resp); err != nil {
		return 0, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return 0, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode())
	}
	return int64(len(resp.Body())), nil
}

func throughputMBs(nbytes int64, dur time.Duration) float64 {
	if dur <= 0 {
		return 0
	}
	return float64(nbytes) / (1 << 20) / dur.Seconds()
}
