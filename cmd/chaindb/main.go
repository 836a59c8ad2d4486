package main

import (
	"flag"
	"os"
	"strings"

	"github.com/arhag/chainbase/internal/arena"
	"github.com/arhag/chainbase/internal/auth"
	"github.com/arhag/chainbase/internal/conn"
	"github.com/arhag/chainbase/internal/db"
	"github.com/arhag/chainbase/internal/record"
	"github.com/arhag/chainbase/pkg"
)

// Document is the record type the standalone server exposes: a free-form
// field bag keyed by name.
type Document struct {
	Id     uint64         `json:"id" cbor:"1,keyasint"`
	Name   string         `json:"name" cbor:"2,keyasint"`
	Fields map[string]any `json:"fields" cbor:"3,keyasint"`
}

func (d *Document) GetID() uint64   { return d.Id }
func (d *Document) SetID(id uint64) { d.Id = id }

var documentSchema = &record.Schema{
	Tag:  0,
	Name: "documents",
	New:  func() record.Record { return &Document{} },
	Keys: []record.KeyDef{
		{
			Name:   "by_name",
			Unique: true,
			Less: func(a, b record.Record) bool {
				return a.(*Document).Name < b.(*Document).Name
			},
		},
	},
}

func main() {
	cwd, _ := os.Getwd()

	dir := flag.String("dir", cwd+"/chaindb", "database directory")
	size := flag.Uint64("size", 1024*1024*8, "region size in bytes")
	ro := flag.Bool("ro", false, "open read-only")
	port := flag.Int("port", 7085, "listening port")
	user := flag.String("user", "admin:admin", "admin user as name:password")
	debug := flag.Bool("debug", false, "show debug logs")

	flag.Parse()

	if *debug {
		pkg.SetLogLevel(pkg.LogLevelDebug)
	}

	mode := arena.ReadWrite
	if *ro {
		mode = arena.ReadOnly
	}

	d, err := db.Open(*dir, mode, *size)
	if err != nil {
		pkg.FatalLog("open database", err)
	}

	if _, err := d.AddIndex(documentSchema); err != nil {
		pkg.FatalLog("register document index", err)
	}

	name, password, ok := strings.Cut(*user, ":")
	if !ok {
		pkg.FatalLog("-user must be name:password")
	}
	users := []*auth.User{auth.NewUser(name, password, auth.UserRoleAdmin)}

	conn.NewServer(d, users).Listen(*port)
}
