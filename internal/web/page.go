package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/BananaCrystal/external-crypto-payment/internal/session"

	"github.com/a-h/templ"
)

// Page renders the checkout shell. The script keeps it in sync with the
// session API after the first paint.
func Page(v session.View) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		state, err := json.Marshal(v)
		if err != nil {
			return err
		}

		title := "Checkout"
		if v.Store.Name != "" {
			title = v.Store.Name + " checkout"
		}

		if _, err := fmt.Fprintf(w, `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
`, templ.EscapeString(title)); err != nil {
			return err
		}
		if v.RedirectURL != "" {
			if _, err := fmt.Fprintf(w, `<meta http-equiv="refresh" content="%d;url=%s">
`, v.RedirectIn, templ.EscapeString(v.RedirectURL)); err != nil {
				return err
			}
		}

		logo := ""
		if v.Store.Logo != "" {
			logo = fmt.Sprintf(`<img class="logo" src="%s" alt="">`, templ.EscapeString(v.Store.Logo))
		}

		_, err = fmt.Fprintf(w, `<style>%s</style>
</head>
<body>
<main>
<header>%s<h1>%s</h1><p>%s</p></header>
<section id="summary">
  <p>Amount: <span id="amount">%s</span> %s</p>
  <p>Processing fee (1.99%%): <span id="fee">%s</span> %s</p>
  <p><strong>Total: <span id="total">%s</span> %s</strong> (<span id="usd-total">%s</span> USDT)</p>
</section>
<div id="error" role="alert"></div>
<form id="details" hidden>
  <input name="firstName" placeholder="First name" required>
  <input name="lastName" placeholder="Last name" required>
  <input name="email" type="email" placeholder="Email" required>
  <div class="phone"><input name="countryCode" size="5"><input name="phoneNumber" placeholder="Phone number" required></div>
  <input name="street" placeholder="Street" required>
  <input name="city" placeholder="City" required>
  <input name="state" placeholder="State (optional)">
  <input name="postalCode" placeholder="Postal code (optional)">
  <input name="country" placeholder="Country" required>
  <label><input name="signUpConsent" type="checkbox"> Create a BananaCrystal account for me</label>
  <button>Continue to payment</button>
</form>
<section id="payment" hidden>
  <p>Send <strong id="pay-usd">%s</strong> USDT on Polygon to:</p>
  <code id="address"></code>
  <img id="qr" alt="Payment address QR code" width="256" height="256">
  <p>Time remaining: <span id="remaining"></span></p>
  <button id="more-time" hidden>I need more time</button>
  <div id="wallet">
    <button id="wallet-connect">Connect wallet</button>
    <button id="wallet-switch" hidden>Switch to Polygon</button>
    <button id="wallet-pay" hidden>Pay with wallet</button>
    <button id="wallet-disconnect" hidden>Disconnect</button>
    <p id="wallet-info"></p>
    <p id="wallet-error" role="alert"></p>
  </div>
  <form id="manual">
    <input name="trxnHash" placeholder="Transaction hash">
    <button>Verify payment</button>
  </form>
  <button id="start-over">Start over</button>
</section>
<section id="success" hidden>
  <h2>Payment verified successfully!</h2>
  <p id="redirect"></p>
</section>
<div id="toasts"></div>
</main>
<script>const initialState = %s;</script>
<script>%s</script>
</body>
</html>
`,
			pageCSS,
			logo, templ.EscapeString(title), templ.EscapeString(v.Description),
			v.Native.Amount, templ.EscapeString(v.Fees.Currency),
			v.Native.Fee, templ.EscapeString(v.Fees.Currency),
			v.Native.Total, templ.EscapeString(v.Fees.Currency), v.USD.Total,
			v.USD.Total,
			state,
			pageJS,
		)
		return err
	})
}

const pageCSS = `body{margin:0;font-family:system-ui,sans-serif;background:#f7f7f5}
main{max-width:560px;margin:24px auto;padding:24px;background:#fff;border-radius:12px}
.logo{max-height:48px}
form input{display:block;width:100%;margin:6px 0;padding:8px;box-sizing:border-box}
.phone{display:flex;gap:6px}
#error,#wallet-error{color:#b42318}
#toasts{position:fixed;top:16px;right:16px}
.toast{padding:10px 14px;margin-bottom:8px;border-radius:8px;background:#eef}
.toast.error{background:#fee4e2}.toast.success{background:#dcfae6}.toast.warning{background:#fef0c7}`

const pageJS = `
const $ = (id) => document.getElementById(id);
let state = initialState;

async function call(path, body) {
  const res = await fetch('/api/session' + path, {
    method: body === undefined ? 'GET' : 'POST',
    headers: {'Content-Type': 'application/json'},
    body: body === undefined ? undefined : JSON.stringify(body),
  });
  const data = await res.json();
  if (data.reload) { window.location.reload(); return data; }
  render(data);
  return data;
}

function render(data) {
  const s = data.session || state;
  state = s;
  $('error').textContent = data.error || s.error || '';
  $('details').hidden = s.step !== 'DETAILS';
  $('payment').hidden = s.step !== 'PAYMENT' || s.submission === 'SUCCEEDED';
  $('success').hidden = s.submission !== 'SUCCEEDED';
  $('address').textContent = s.wallet_address;
  $('remaining').textContent = s.remaining;
  $('more-time').hidden = !s.can_request_time;
  $('start-over').hidden = !s.can_start_over;
  $('manual').querySelector('button').disabled = !s.timer_active || s.submission === 'SUBMITTING';
  if (s.step === 'PAYMENT' && !$('qr').src) { $('qr').src = '/api/session/qr.png'; }
  if (s.redirect_url) {
    $('redirect').textContent = 'Redirecting in ' + s.redirect_in + ' seconds...';
    setTimeout(() => { window.location.href = s.redirect_url; }, s.redirect_in * 1000);
  }
  const w = data.wallet;
  if (w) {
    const connected = !!w.address;
    $('wallet-connect').hidden = connected;
    $('wallet-disconnect').hidden = !connected;
    $('wallet-switch').hidden = !connected || w.correct_network;
    $('wallet-pay').hidden = !connected;
    $('wallet-pay').disabled = !w.can_pay || !s.can_pay_with_wallet;
    $('wallet-info').textContent = connected ? w.address + ' · ' + (w.balance === 'loading' ? 'Loading balance...' : w.balance + ' USDT') : '';
    $('wallet-error').textContent = w.error || w.warning || '';
  }
  for (const t of data.toasts || []) {
    const el = document.createElement('div');
    el.className = 'toast ' + t.kind;
    el.textContent = t.message;
    $('toasts').appendChild(el);
    setTimeout(() => el.remove(), 3000);
  }
}

function fields(form) {
  const d = Object.fromEntries(new FormData(form));
  d.signUpConsent = form.signUpConsent.checked;
  delete d.countryCode;
  return d;
}

const details = $('details');
for (const [k, v] of Object.entries(state.draft)) {
  if (details[k]) { if (details[k].type === 'checkbox') details[k].checked = v; else details[k].value = v; }
}
details.countryCode.value = state.country_code;
details.addEventListener('change', (ev) => {
  if (ev.target.name === 'countryCode') call('/country-code', {country_code: ev.target.value});
  else call('/draft', Object.assign({}, state.draft, fields(details)));
});
details.addEventListener('submit', async (ev) => {
  ev.preventDefault();
  await call('/draft', Object.assign({}, state.draft, fields(details)));
  call('/details', {});
});

const manual = $('manual');
manual.trxnHash.value = state.draft.trxnHash || '';
manual.addEventListener('submit', async (ev) => {
  ev.preventDefault();
  await call('/hash', {trxn_hash: manual.trxnHash.value});
  call('/submit', {});
});

$('more-time').onclick = () => call('/more-time', {});
$('start-over').onclick = () => call('/start-over', {}).then(() => details.reset());
$('wallet-connect').onclick = () => call('/wallet/connect', {});
$('wallet-switch').onclick = () => call('/wallet/switch-network', {});
$('wallet-disconnect').onclick = () => call('/wallet/disconnect', {});
$('wallet-pay').onclick = () => call('/wallet/pay', {});

render({session: state});
setInterval(() => { if (state.step === 'PAYMENT' && state.submission !== 'SUCCEEDED') call(''); }, 1000);
`
