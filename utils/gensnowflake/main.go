// Command gensnowflake generates typed snowflake IDs, such as GuildID, that
// share Snowflake's JSON encoding and validity rules.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	_ "embed"
)

type data struct {
	Package       string
	ImportDiscord bool
	Snowflakes    []snowflakeType
}

type snowflakeType struct {
	TypeName string
	Doc      string
}

//go:embed template.tmpl
var packageTmpl string

var tmpl = template.Must(template.New("").Parse(packageTmpl))

func main() {
	var pkg string
	var out string

	log.SetFlags(0)

	flag.Usage = func() {
		log.Printf("usage: %s [-p package] [-o output] <type names...>", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.StringVar(&out, "o", "", "output, empty for stdout")
	flag.StringVar(&pkg, "p", "discord", "package name")
	flag.Parse()

	if len(flag.Args()) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	b, err := generate(pkg, flag.Args())
	if err != nil {
		log.Fatalln(err)
	}

	outFile := os.Stdout

	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			log.Fatalln("failed to create output file:", err)
		}
		defer f.Close()

		outFile = f
	}

	if _, err := outFile.Write(b); err != nil {
		log.Fatalln("failed to write to file:", err)
	}
}

func generate(pkg string, typeNames []string) ([]byte, error) {
	d := data{
		Package:       pkg,
		ImportDiscord: pkg != "discord",
	}

	for _, name := range typeNames {
		d.Snowflakes = append(d.Snowflakes, snowflakeType{
			TypeName: name,
			Doc:      strings.ToLower(strings.TrimSuffix(name, "ID")),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	b, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to fmt: %w", err)
	}

	return b, nil
}
