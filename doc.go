/*
Package texrender renders LaTeX snippets into images through a remote rendering
backend and delivers each result as exactly one chat message.

The render request pipeline has four parts:

  - a connection pool and binary-protocol client (pkg/pool, pkg/wire, pkg/backend)
    with bounded retry on transport faults;
  - an alternative signed-URL client that lets the chat platform fetch images
    straight from an HTTP gateway (pkg/backend, pkg/adapters/http);
  - the document builder that sanitizes raw input into a backend-ready document
    (pkg/document);
  - the delivery controller that posts, edits and retracts responses (pkg/delivery).

# Usage

Service wires these parts from a config.Config. Chat integrations implement
delivery.Origin and delivery.Platform and feed events to the Controller.

	package main

	import (
		"context"
		"log"
		"os"

		"github.com/aretw0/texrender"
		"github.com/aretw0/texrender/internal/config"
		"github.com/aretw0/texrender/pkg/adapters/console"
	)

	func main() {
		cfg, err := config.Load("texrender.yaml")
		if err != nil {
			log.Fatal(err)
		}
		svc, err := texrender.New(cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer svc.Close()

		term := console.New(os.Stdout)
		ctrl := svc.Controller(term)
		if _, err := ctrl.HandleCommand(context.Background(), term, `e^{i\pi} = -1`, false); err != nil {
			log.Fatal(err)
		}
	}

The same Service also serves the render gateway (Service.Gateway), which is what
`texrender serve` runs.
*/
package texrender
