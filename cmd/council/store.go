package main

import (
	"fmt"

	"github.com/axiomesh/council/repo"
	"github.com/axiomesh/council/storage"
	"github.com/urfave/cli/v2"
)

var storeCMD = &cli.Command{
	Name:  "store",
	Usage: "Move the persisted document between backends",
	Subcommands: []*cli.Command{
		{
			Name:      "export",
			Usage:     "Write the configured store to a json file",
			ArgsUsage: "<file>",
			Action:    exportStore,
		},
		{
			Name:      "import",
			Usage:     "Replace the configured store with the content of a json file",
			ArgsUsage: "<file>",
			Action:    importStore,
		},
	},
}

func exportStore(ctx *cli.Context) error {
	r, file, err := storeArgs(ctx)
	if err != nil {
		return err
	}
	src, err := storage.Open(r.Config)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := storage.NewJSONFile(file)
	if err != nil {
		return err
	}

	n, err := storage.Copy(dst, src)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d proposals to %s\n", n, file)
	return nil
}

func importStore(ctx *cli.Context) error {
	r, file, err := storeArgs(ctx)
	if err != nil {
		return err
	}
	if !repo.Exist(file) {
		return fmt.Errorf("%s does not exist", file)
	}
	src, err := storage.NewJSONFile(file)
	if err != nil {
		return err
	}
	dst, err := storage.Open(r.Config)
	if err != nil {
		return err
	}
	defer dst.Close()

	n, err := storage.Copy(dst, src)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d proposals into %s\n", n, r.Config.StoragePath())
	return nil
}

func storeArgs(ctx *cli.Context) (*repo.Repo, string, error) {
	if ctx.NArg() != 1 {
		return nil, "", fmt.Errorf("expected exactly one file argument")
	}
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, "", err
	}
	r, err := repo.Load(p)
	if err != nil {
		return nil, "", err
	}
	return r, ctx.Args().First(), nil
}
