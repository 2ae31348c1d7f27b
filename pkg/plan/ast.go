package plan

import "github.com/alecthomas/participle/v2/lexer"

// File is a parsed plan: the target device, the fuzzers to run, and the
// rules that collect their results.
//
//	device "xc2064"
//	fuzzer CLB:FF:INIT:1 tiles 3 {
//	    base inst ff = "FF@CLB_R1C1"
//	    fuzz attr ff INIT = "0" -> "1"
//	}
//	collect bool CLB:FF:INIT
type File struct {
	Pos    lexer.Position
	Device string  `"device" @String`
	Stmts  []*Stmt `@@*`
}

type Stmt struct {
	Fuzzer  *FuzzerDecl  `  "fuzzer" @@`
	Collect *CollectDecl `| "collect" @@`
}

// FeatureRef is TILE:BLOCK:ATTR:VALUE.
type FeatureRef struct {
	Tile  string `@Ident ":"`
	Block string `@Ident ":"`
	Attr  string `@Ident ":"`
	Value string `@(Ident | Int | String | "*")`
}

type FuzzerDecl struct {
	Pos     lexer.Position
	Feature FeatureRef `@@`
	Tiles   []int      `( "tiles" @Int+ )?`
	Entries []*Entry   `"{" @@* "}"`
}

type Entry struct {
	Pos   lexer.Position
	Base  *BaseEntry  `  "base" @@`
	Any   *AnyEntry   `| "any" @@`
	Fuzz  *FuzzEntry  `| "fuzz" @@`
	Multi *MultiEntry `| "multi" @@`
	Mutex *MutexEntry `| "mutex" @@`
}

// Target names a key: inst NAME, attr INST NAME, pin INST NAME,
// pip TILE DST or option NAME.
type Target struct {
	Kind  string `@("inst" | "attr" | "pin" | "pip" | "option")`
	Scope string `@(Ident | String)`
	Name  string `@(Ident | String)?`
}

type BaseEntry struct {
	Target Target `@@ "="`
	Value  string `@(String | Ident | Int)`
}

type AnyEntry struct {
	Target Target   `@@ "="`
	Values []string `"[" @(String | Ident | Int) ( "," @(String | Ident | Int) )* "]"`
}

type FuzzEntry struct {
	Target Target `@@ "="`
	From   string `@(String | Ident | Int) Arrow`
	To     string `@(String | Ident | Int)`
}

type MultiEntry struct {
	Target Target `@@`
	Width  int    `"[" @Int "]"`
	Format string `@("bin" | "hex" | "dec")?`
}

type MutexEntry struct {
	Resource string `@(String | Ident)`
	Holder   string `"=" @(String | Ident)`
}

// AttrRef is TILE:BLOCK:ATTR, or TILE:DST:SRC for buffers.
type AttrRef struct {
	Tile  string `@Ident ":"`
	Block string `@Ident ":"`
	Attr  string `@Ident`
}

type CollectDecl struct {
	Pos    lexer.Position
	Bool   *AttrRef      `  "bool" @@`
	BoolBi *AttrRef      `| "boolbi" @@`
	BitVec *AttrRef      `| "bitvec" @@`
	Int    *IntCollect   `| "int" @@`
	Enum   *EnumCollect  `| "enum" @@`
	Mux    *MuxCollect   `| "mux" @@`
	Inv    *AttrRef      `| "inv" @@`
	Buf    *AttrRef      `| "buf" @@`
	BiPass *AttrRef      `| "bipass" @@`
	Delay  *DelayCollect `| "delay" @@`
}

type IntCollect struct {
	Ref    AttrRef  `@@`
	Values []uint64 `"values" "[" @Int ( "," @Int )* "]"`
	Base   uint64   `( "base" @Int )?`
	Gray   bool     `@"gray"?`
}

type EnumCollect struct {
	Ref     AttrRef  `@@`
	Values  []string `"values" "[" @(Ident | String | Int) ( "," @(Ident | String | Int) )* "]"`
	Default string   `( "default" @(Ident | String | Int) )?`
	Enable  string   `( "enable" @(Ident | String) )?`
	OCD     string   `( "ocd" @("bitmajor" | "bit" | "value" | "mux") )?`
}

type MuxCollect struct {
	Tile    string   `@Ident ":"`
	Dst     string   `@Ident`
	Sources []string `"sources" "[" @Ident ( "," @Ident )* "]"`
	OCD     string   `( "ocd" @("bitmajor" | "bit" | "value" | "mux") )?`
}

type DelayCollect struct {
	Tile string `@Ident ":"`
	Wire string `@Ident`
	Taps int    `"taps" @Int`
}
