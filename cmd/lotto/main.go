package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dedis/lottery/gateway"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/raffle/base"
	"github.com/pterm/pterm"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	app := cli.NewApp()
	app.Name = "lotto"
	app.Usage = "run and play a recurring raffle"
	app.Version = "0.1"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:  "url, u",
			Value: "http://localhost:8080",
			Usage: "address of the node's gateway",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.GlobalInt("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "run a node with its gateway",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "lottery.toml",
					Usage: "configuration file"},
			},
			Action: runNode,
		},
		{
			Name:  "config",
			Usage: "write the default configuration",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "out, o", Value: "lottery.toml",
					Usage: "output file"},
			},
			Action: writeConfig,
		},
		{
			Name:   "keygen",
			Usage:  "create a participant key",
			Action: keygen,
		},
		{
			Name:   "status",
			Usage:  "show the current round",
			Action: status,
		},
		{
			Name:  "deposit",
			Usage: "credit an account from the test faucet",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "address, a", Usage: "account address"},
				cli.Uint64Flag{Name: "amount", Usage: "amount to credit"},
			},
			Action: deposit,
		},
		{
			Name:  "enter",
			Usage: "enter the current round",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "secret, s", Usage: "hex secret from keygen"},
				cli.Uint64Flag{Name: "amount", Usage: "amount to pay, the entrance fee if zero"},
			},
			Action: enter,
		},
		{
			Name:  "balance",
			Usage: "show an account",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "address, a", Usage: "account address"},
			},
			Action: balance,
		},
		{
			Name:   "upkeep",
			Usage:  "start a draw if the round is eligible",
			Action: upkeep,
		},
		{
			Name:  "winners",
			Usage: "list the previous winners",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit, l", Value: 10, Usage: "number of winners"},
			},
			Action: winners,
		},
	}
	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func runNode(c *cli.Context) error {
	cfg, err := lottery.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	db, err := bbolt.Open(cfg.DB, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return xerrors.Errorf("opening %s: %v", cfg.DB, err)
	}
	defer db.Close()
	node, err := lottery.NewNode(db, []byte(base.UID), cfg)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Close()

	srv := gateway.NewServer(node)
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe(cfg.Listen) }()
	pterm.Success.Printfln("Raffle running, gas lane %s, gateway on %s",
		node.GasLane(), cfg.Listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errs:
		return err
	case <-sig:
	}
	pterm.Info.Println("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func writeConfig(c *cli.Context) error {
	out := c.String("out")
	if err := lottery.DefaultConfig().Save(out); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", out)
	return nil
}

func keygen(c *cli.Context) error {
	kp := key.NewKeyPair(cothority.Suite)
	addr, err := lottery.AddressOf(kp.Public)
	if err != nil {
		return err
	}
	secret, err := kp.Private.MarshalBinary()
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithData(pterm.TableData{
		{"address", string(addr)},
		{"secret", hex.EncodeToString(secret)},
	}).Render()
}

func status(c *cli.Context) error {
	st, err := newAPIClient(c.GlobalString("url")).state()
	if err != nil {
		return err
	}
	data := pterm.TableData{
		{"round", strconv.FormatUint(st.Round, 10)},
		{"state", st.State},
		{"entrance fee", strconv.FormatUint(st.EntranceFee, 10)},
		{"interval", st.Interval},
		{"players", strconv.Itoa(len(st.Participants))},
		{"pool", strconv.FormatUint(st.PoolBalance, 10)},
		{"last draw", st.LastDrawTime.Format(time.RFC3339)},
		{"recent winner", string(st.RecentWinner)},
	}
	if st.PendingRequest != "" {
		data = append(data, []string{"pending request", st.PendingRequest})
	}
	return pterm.DefaultTable.WithData(data).Render()
}

func deposit(c *cli.Context) error {
	addr := c.String("address")
	if addr == "" {
		return xerrors.New("missing --address")
	}
	b, err := newAPIClient(c.GlobalString("url")).deposit(addr, c.Uint64("amount"))
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Balance of %s: %d", b.Address, b.Balance)
	return nil
}

func enter(c *cli.Context) error {
	buf, err := hex.DecodeString(c.String("secret"))
	if err != nil || len(buf) == 0 {
		return xerrors.New("missing or invalid --secret")
	}
	secret := cothority.Suite.Scalar()
	if err := secret.UnmarshalBinary(buf); err != nil {
		return xerrors.Errorf("decoding secret: %v", err)
	}
	cl := newAPIClient(c.GlobalString("url"))
	addr, err := lottery.AddressOf(cothority.Suite.Point().Mul(secret, nil))
	if err != nil {
		return err
	}
	acc, err := cl.balance(string(addr))
	if err != nil {
		return err
	}
	amount := c.Uint64("amount")
	if amount == 0 {
		st, err := cl.state()
		if err != nil {
			return err
		}
		amount = st.EntranceFee
	}
	t, err := lottery.NewTicket(secret, amount, acc.Counter+1)
	if err != nil {
		return err
	}
	reply, err := cl.enter(gateway.NewTicketView(t))
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Entered round %d as player %d", reply.Round,
		reply.Players)
	return nil
}

func balance(c *cli.Context) error {
	addr := c.String("address")
	if addr == "" {
		return xerrors.New("missing --address")
	}
	b, err := newAPIClient(c.GlobalString("url")).balance(addr)
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithData(pterm.TableData{
		{"address", b.Address},
		{"balance", strconv.FormatUint(b.Balance, 10)},
		{"counter", strconv.FormatUint(b.Counter, 10)},
		{"frozen", strconv.FormatBool(b.Frozen)},
	}).Render()
}

func upkeep(c *cli.Context) error {
	cl := newAPIClient(c.GlobalString("url"))
	up, err := cl.checkUpkeep()
	if err != nil {
		return err
	}
	if !up.Needed {
		pterm.Info.Println("No draw needed")
		return nil
	}
	id, err := cl.performUpkeep(up.Data)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Draw started, request %s", id)
	return nil
}

func winners(c *cli.Context) error {
	ws, err := newAPIClient(c.GlobalString("url")).winners(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(ws) == 0 {
		pterm.Info.Println("No winner yet")
		return nil
	}
	data := pterm.TableData{{"round", "winner", "amount", "picked at"}}
	for _, w := range ws {
		data = append(data, []string{
			strconv.FormatUint(w.Round, 10),
			string(w.Winner),
			strconv.FormatUint(w.Amount, 10),
			w.PickedAt.Format(time.RFC3339),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func init() {
	// No colors when piped.
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		pterm.DisableStyling()
	}
}
