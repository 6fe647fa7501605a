package main

import (
	"fmt"
	"os"

	"github.com/axiomesh/council/repo"
	"github.com/urfave/cli/v2"
)

var configCMD = &cli.Command{
	Name:  "config",
	Usage: "The config manage commands",
	Subcommands: []*cli.Command{
		{
			Name:   "generate",
			Usage:  "Generate default config",
			Action: generate,
		},
		{
			Name:   "show",
			Usage:  "Show the complete config processed by the environment variable",
			Action: show,
		},
		{
			Name:   "check",
			Usage:  "Check if the config file is valid",
			Action: check,
		},
		{
			Name:   "rewrite-with-env",
			Usage:  "Rewrite config with env",
			Action: rewriteWithEnv,
		},
	},
}

func generate(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if repo.Exist(p) {
		fmt.Println("council repo already exists")
		return nil
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return err
	}

	r := &repo.Repo{
		Config: repo.DefaultConfig(p),
	}
	if err := r.Flush(); err != nil {
		return err
	}

	fmt.Printf("initializing council at %s\n", p)
	return nil
}

func show(ctx *cli.Context) error {
	r, ok, err := loadExisting(ctx)
	if !ok || err != nil {
		return err
	}
	str, err := repo.MarshalConfig(r.Config)
	if err != nil {
		return err
	}
	fmt.Println(str)
	return nil
}

func check(ctx *cli.Context) error {
	_, ok, err := loadExisting(ctx)
	if !ok {
		return nil
	}
	if err != nil {
		fmt.Println("config file format error, please check:", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
	return nil
}

func rewriteWithEnv(ctx *cli.Context) error {
	r, ok, err := loadExisting(ctx)
	if !ok || err != nil {
		return err
	}
	return r.Flush()
}

// loadExisting loads the repo, reporting ok=false when it was never generated.
func loadExisting(ctx *cli.Context) (*repo.Repo, bool, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, true, err
	}
	if !repo.Exist(p) {
		fmt.Println("council repo not exist")
		return nil, false, nil
	}
	r, err := repo.Load(p)
	return r, true, err
}

func getRootPath(ctx *cli.Context) (string, error) {
	return repo.LoadRepoRootFromEnv(ctx.String("repo"))
}
