// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command catalog-lint validates a service catalog YAML file offline,
// outside of a running cluster, so a catalog change can be checked in
// CI before it is mounted into the service selector's ConfigMap.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-kit/log"

	"github.com/nasa/harmony/pkg/harmonyservice"
)

func main() {
	var (
		catalogFile    = flag.String("catalog-file", "", "service catalog YAML file to validate")
		cmrEnvironment = flag.String("cmr-environment", "", "CMR environment key to validate within the catalog")
		verbose        = flag.Bool("verbose", false, "log each loaded service as it is validated")
	)
	flag.Parse()

	if *catalogFile == "" || *cmrEnvironment == "" {
		fmt.Fprintln(os.Stderr, "catalog-lint: -catalog-file and -cmr-environment are required")
		os.Exit(2)
	}

	var logger log.Logger = log.NewNopLogger()
	if *verbose {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}

	data, err := os.ReadFile(*catalogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog-lint: reading %s: %s\n", *catalogFile, err)
		os.Exit(1)
	}

	catalog, err := harmonyservice.Load(logger, data, *cmrEnvironment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog-lint: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("catalog-lint: %d service(s) valid for %s\n", len(catalog.Services()), *cmrEnvironment)
}
