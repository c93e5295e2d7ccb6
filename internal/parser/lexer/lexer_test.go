package lexer

import "testing"

func TestTokenizeSelectStatement(t *testing.T) {
	tokens, err := Tokenize("SELECT name, age FROM users WHERE age >= 18;")
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}

	want := []TokenType{
		SELECT, IDENTIFIER, COMMA, IDENTIFIER, FROM, IDENTIFIER,
		WHERE, IDENTIFIER, GREATER_EQUAL, NUMBER, SEMICOLON,
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d: got type %d (%q), want %d", i, tokens[i].Type, tokens[i].Literal, tt)
		}
	}
}

func TestTokenizeKeywordsCaseInsensitive(t *testing.T) {
	tokens, err := Tokenize("select * from Users")
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}
	want := []TokenType{SELECT, ASTERISK, FROM, IDENTIFIER}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d: got %d, want %d", i, tokens[i].Type, tt)
		}
	}
}

func TestTokenizeStringLiteral(t *testing.T) {
	tokens, err := Tokenize("INSERT INTO t VALUES ('hello world')")
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}
	var str Token
	for _, tok := range tokens {
		if tok.Type == STRING {
			str = tok
		}
	}
	if str.Literal != "hello world" {
		t.Errorf("got string literal %q, want %q", str.Literal, "hello world")
	}
}

func TestTokenizeComparisonOperators(t *testing.T) {
	tokens, err := Tokenize("a = b != c <= d >= e < f > g <> h")
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}
	want := []TokenType{
		IDENTIFIER, EQUALS, IDENTIFIER, NOT_EQUAL, IDENTIFIER, LESS_EQUAL,
		IDENTIFIER, GREATER_EQUAL, IDENTIFIER, LESS_THAN, IDENTIFIER,
		GREATER_THAN, IDENTIFIER, NOT_EQUAL, IDENTIFIER,
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(tokens), len(want))
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d: got %d, want %d", i, tokens[i].Type, tt)
		}
	}
}

func TestTokenizeSkipsLineComments(t *testing.T) {
	tokens, err := Tokenize("SELECT * FROM t -- trailing comment\nWHERE x = 1")
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}
	want := []TokenType{SELECT, ASTERISK, FROM, IDENTIFIER, WHERE, IDENTIFIER, EQUALS, NUMBER}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
}

func TestTokenizeIllegalCharacter(t *testing.T) {
	if _, err := Tokenize("SELECT * FROM t WHERE x $ 1"); err == nil {
		t.Fatal("expected an error for an illegal character, got nil")
	}
}

func TestTokenizeDDLKeywords(t *testing.T) {
	tokens, err := Tokenize("CREATE TABLE t (id INT PRIMARY KEY, name VARCHAR UNIQUE)")
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}
	want := []TokenType{
		CREATE, TABLE, IDENTIFIER, PAREN_OPEN, IDENTIFIER, INT, PRIMARY, KEY,
		COMMA, IDENTIFIER, VARCHAR, UNIQUE, PAREN_CLOSE,
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d: got %d, want %d", i, tokens[i].Type, tt)
		}
	}
}
